/*
 * Copyright 2025 The procpipe Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package channel

import (
	"sync/atomic"
	"unsafe"
)

// Shared metadata layout. One small region per channel holds the two
// cursors, the full flag and the two semaphore words. Offsets keep the
// 64-bit cursors 8-byte aligned; the region itself is page aligned.
const (
	metaHeadOffset   = 0
	metaTailOffset   = 8
	metaFullOffset   = 16
	metaLockOffset   = 20
	metaUnreadOffset = 24
	metaRegionSize   = 64
)

// metaView reads and writes the channel metadata in place. All accesses
// are atomic: the cursors and flag are observed by peer processes, and
// the lock only serializes mutation ordering, not visibility.
type metaView struct {
	base unsafe.Pointer
}

func newMetaView(mem []byte) *metaView {
	return &metaView{base: unsafe.Pointer(&mem[0])}
}

func (m *metaView) word64(off uintptr) *uint64 {
	return (*uint64)(unsafe.Pointer(uintptr(m.base) + off))
}

func (m *metaView) word32(off uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(m.base) + off))
}

func (m *metaView) Head() uint64     { return atomic.LoadUint64(m.word64(metaHeadOffset)) }
func (m *metaView) SetHead(v uint64) { atomic.StoreUint64(m.word64(metaHeadOffset), v) }
func (m *metaView) Tail() uint64     { return atomic.LoadUint64(m.word64(metaTailOffset)) }
func (m *metaView) SetTail(v uint64) { atomic.StoreUint64(m.word64(metaTailOffset), v) }

func (m *metaView) Full() bool {
	return atomic.LoadUint32(m.word32(metaFullOffset)) != 0
}

func (m *metaView) SetFull(v bool) {
	var w uint32
	if v {
		w = 1
	}
	atomic.StoreUint32(m.word32(metaFullOffset), w)
}

func (m *metaView) lockWord() *uint32   { return m.word32(metaLockOffset) }
func (m *metaView) unreadWord() *uint32 { return m.word32(metaUnreadOffset) }
