//
// Copyright 2019-2022 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package utils

import (
	"sort"
	"strings"
)

// FilepathSort sorts paths in place by depth (number of path components),
// shallowest first, preserving relative order among paths of equal depth,
// so a parent directory always sorts before any of its descendants.
func FilepathSort(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return depth(paths[i]) < depth(paths[j])
	})
}

func depth(path string) int {
	return strings.Count(strings.Trim(path, "/"), "/") + 1
}
