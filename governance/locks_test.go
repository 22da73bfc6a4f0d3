// Copyright 2025 Quintet
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

package governance

import (
	"sync"
	"testing"
)

func TestOrgLocks_StableIdentity(t *testing.T) {
	locks := NewOrgLocks()

	if locks.Team("team-1") != locks.Team("team-1") {
		t.Error("same team yields different mutexes")
	}
	if locks.System("sys1-a") != locks.System("sys1-a") {
		t.Error("same system yields different mutexes")
	}
	// Team and system keyspaces do not collide
	if locks.Team("x") == locks.System("x") {
		t.Error("team and system share a mutex for the same raw ID")
	}
}

func TestOrgLocks_LockSystems(t *testing.T) {
	locks := NewOrgLocks()

	unlock := locks.LockSystems([]string{"sys1-b", "sys1-a"})
	// Both locks are held while the unlock func is pending
	for _, id := range []string{"sys1-a", "sys1-b"} {
		if locks.System(id).TryLock() {
			t.Errorf("lock for %s was not held", id)
		}
	}
	unlock()
	for _, id := range []string{"sys1-a", "sys1-b"} {
		mu := locks.System(id)
		if !mu.TryLock() {
			t.Errorf("lock for %s still held after unlock", id)
		} else {
			mu.Unlock()
		}
	}
}

func TestOrgLocks_ConcurrentCounter(t *testing.T) {
	locks := NewOrgLocks()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu := locks.Team("team-1")
			mu.Lock()
			counter++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}
