/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package scheduler

import "time"

const (
	minSeedBackoff = 15 * time.Minute
	maxSeedBackoff = 30 * time.Minute
	minBackoffCap  = 14 * 24 * time.Hour
	maxBackoffCap  = 28 * 24 * time.Hour
)

// Rand is the part of *math/rand.Rand the backoff needs.
type Rand interface {
	Int63n(n int64) int64
}

// NextBackoff returns the delay before the next attempt of a task that has
// just failed after waiting prev. The first failure gets a random seed, later
// ones double, and every result is capped at a ceiling drawn between two and
// four weeks. The result never drops below prev.
func NextBackoff(prev time.Duration, rng Rand) time.Duration {
	if prev <= 0 {
		return between(minSeedBackoff, maxSeedBackoff, rng)
	}

	ceiling := between(minBackoffCap, maxBackoffCap, rng)
	next := prev * 2
	if next > ceiling {
		next = ceiling
	}
	if next < prev {
		return prev
	}
	return next
}

func between(lo, hi time.Duration, rng Rand) time.Duration {
	span := int64((hi - lo) / time.Second)
	return lo + time.Duration(rng.Int63n(span+1))*time.Second
}
