//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package backfill

// Callback receives everything a session emits. Sibling subtrees are
// traversed concurrently, so implementations must be safe for concurrent use
// and must not assume any ordering across subtrees. Within one leaf, inline
// pairs arrive in stored key order.
//
// Large values are streamed rather than reassembled: each overflow chain
// link becomes one OnLargeValueChunk call, chunks of one key arrive in
// original byte order with a zero-based chunk index.
type Callback interface {
	OnPair(key, value []byte, timestamp uint64)
	OnLargeValueChunk(key, chunk []byte, chunkIndex, totalChunks int)

	// exactly one of OnDone/OnError fires, after every held block has been
	// released. Cancellation counts as success.
	OnDone()
	OnError(err error)
}
