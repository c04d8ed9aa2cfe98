/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package controller runs the periodic evaluation cycle that ties the other
// packages together. Each tick it evaluates every configured tier in
// parallel:
//
//  1. Polling: take a node snapshot from the configured source, and skip
//     the tier when too many of its nodes are unreachable.
//  2. Deciding: resolve the in-flight operation if one exists, then apply
//     the threshold rules unless the tier is gated by a pending operation
//     or a cooldown.
//  3. Dispatching: turn the decision into concrete node targets via the
//     placement engine and hand them to the dispatcher.
//
// The loop holds no scaling state of its own; everything it reads between
// ticks lives in the state registry or comes fresh from the node source.
package controller
