// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package polling

import (
	"context"
	"testing"

	testutil "github.com/ZaparooProject/go-mfrc630/internal/testing"
)

func BenchmarkSession_PollOnce(b *testing.B) {
	b.Run("empty field", func(b *testing.B) {
		s, _, _ := newSimSession(b)
		benchmarkPollOnce(b, s)
	})
	b.Run("NTAG213 present", func(b *testing.B) {
		s, _, _ := newSimSession(b, testutil.NewVirtualNTAG213(nil))
		benchmarkPollOnce(b, s)
	})
}

func benchmarkPollOnce(b *testing.B, s *Session) {
	b.Helper()
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		if err := s.pollOnce(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
