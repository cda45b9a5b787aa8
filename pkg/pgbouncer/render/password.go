// Copyright (c) 2018-2022 Splunk Inc. All rights reserved.

//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package render

import (
	"crypto/md5"
	"encoding/hex"
)

// MD5Password hashes a plaintext password the way postgres stores md5
// passwords: "md5" + md5(password + username). pgbouncer's auth file carries
// hashes in this form so plaintext never reaches the pooler's filesystem.
func MD5Password(username, password string) string {
	sum := md5.Sum([]byte(password + username))
	return "md5" + hex.EncodeToString(sum[:])
}
