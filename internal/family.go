/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package internal

// Family identifies a sketch type inside serialized images. The id is a fixed
// constant shared with peer implementations in other languages and must never
// change.
type Family struct {
	Id          int
	MinPreLongs int
	MaxPreLongs int
}

type families struct {
	VarOptItems Family
}

var FamilyEnum = &families{
	VarOptItems: Family{
		Id:          13,
		MinPreLongs: 1,
		MaxPreLongs: 3,
	},
}
