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
	"sort"
	"sync"
)

// OrgLocks serializes policy mutations per team and per system while
// leaving unrelated keys fully parallel. The Envelope and Grant services
// share one instance so an envelope cascade and a direct grant mutation
// on the same system cannot interleave.
//
// Cascades acquire the affected systems' locks in sorted order after the
// team lock; a system belongs to exactly one team, so two cascades can
// only contend on the same sorted sequence and never deadlock.
type OrgLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrgLocks creates an empty lock table
func NewOrgLocks() *OrgLocks {
	return &OrgLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *OrgLocks) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Team returns the mutation lock for a team's envelope
func (l *OrgLocks) Team(teamID string) *sync.Mutex {
	return l.get("team:" + teamID)
}

// System returns the mutation lock for a system's grants
func (l *OrgLocks) System(systemID string) *sync.Mutex {
	return l.get("system:" + systemID)
}

// LockSystems locks the given systems in sorted order and returns the
// matching unlock function
func (l *OrgLocks) LockSystems(systemIDs []string) func() {
	ids := make([]string, len(systemIDs))
	copy(ids, systemIDs)
	sort.Strings(ids)

	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		m := l.System(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
