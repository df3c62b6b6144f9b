// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage holds the pieces shared by every storage backend:
// the transcript codec that serializes session messages for at-rest
// storage. The backends themselves live in subpackages (memory,
// sqlite, postgres, redis) and are composed by pkg/storage/backend.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/mottych/PurposePath-AI-sub003/pkg/types"
)

// CompressionThreshold is the minimum transcript size in bytes to
// trigger automatic compression. Coaching transcripts grow by a few
// hundred bytes a turn; short sessions stay plain JSON.
const CompressionThreshold = 1024 // 1KB

// Codec serializes a session transcript to bytes and back. Transcripts
// at or above CompressionThreshold are zstd-compressed when that
// actually shrinks them; the compressed flag travels with the payload
// (a column in the SQL backends, an envelope field in redis).
//
// A Codec is safe for concurrent use: the underlying zstd encoder and
// decoder are reusable and thread-safe.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a transcript codec with reusable zstd state.
func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// EncodeMessages serializes a transcript. The returned flag reports
// whether the payload is zstd-compressed.
func (c *Codec) EncodeMessages(msgs []types.Message) ([]byte, bool, error) {
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal transcript: %w", err)
	}

	if len(data) >= CompressionThreshold {
		compressed := c.encoder.EncodeAll(data, nil)
		if len(compressed) < len(data) {
			return compressed, true, nil
		}
	}

	return data, false, nil
}

// DecodeMessages reverses EncodeMessages.
func (c *Codec) DecodeMessages(data []byte, compressed bool) ([]types.Message, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if compressed {
		plain, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress transcript: %w", err)
		}
		data = plain
	}

	var msgs []types.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return msgs, nil
}
