// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build darwin || netbsd || freebsd || openbsd || dragonfly || linux

package netway

import (
	"fmt"
	"runtime"
	"sync"
)

func setNumLoops(numLoops int) error {
	return pollmanager.SetNumLoops(numLoops)
}

func setLoadBalance(lb LoadBalance) error {
	return pollmanager.SetLoadBalance(lb)
}

// pollmanager manage all pollers
var pollmanager = newManager(runtime.GOMAXPROCS(0)/20 + 1)

func newManager(numLoops int) *manager {
	m := &manager{}
	m.SetLoadBalance(RoundRobin)
	m.NumLoops = numLoops
	return m
}

// manager manage all pollers
type manager struct {
	mu       sync.Mutex
	NumLoops int
	balance  loadbalance // load balancing method
	polls    []Poll      // all the polls
	started  bool
}

// SetNumLoops will return error when set numLoops < 1
func (m *manager) SetNumLoops(numLoops int) error {
	if numLoops < 1 {
		return fmt.Errorf("set invalid numLoops[%d]", numLoops)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		m.NumLoops = numLoops
		return nil
	}
	return m.resize(numLoops)
}

// resize opens or closes pollers to reach numLoops, must be called with mu held.
func (m *manager) resize(numLoops int) error {
	if numLoops < len(m.polls) {
		// if less than, close the redundant pollers
		for idx := numLoops; idx < len(m.polls); idx++ {
			if err := m.polls[idx].Close(); err != nil {
				logger.Printf("NETWAY: poller close failed: %v", err)
			}
		}
		m.polls = m.polls[:numLoops]
	} else {
		// new poll to fill delta.
		for idx := len(m.polls); idx < numLoops; idx++ {
			poll, err := openPoll()
			if err != nil {
				return err
			}
			m.polls = append(m.polls, poll)
			go func() {
				if err := poll.Wait(); err != nil {
					logger.Printf("NETWAY: poller wait failed: %v", err)
				}
			}()
		}
	}
	m.NumLoops = numLoops
	// LoadBalance must be set first
	m.balance.Rebalance(m.polls)
	return nil
}

// SetLoadBalance set load balance.
func (m *manager) SetLoadBalance(lb LoadBalance) error {
	if m.balance != nil && m.balance.LoadBalance() == lb {
		return nil
	}
	m.balance = newLoadbalance(lb, m.polls)
	return nil
}

// Close release all resources.
func (m *manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, poll := range m.polls {
		poll.Close()
	}
	m.polls = nil
	m.balance.Rebalance(nil)
	m.started = false
	return nil
}

// Reset pollers, this operation is very dangerous, please make sure to do this when calling !
func (m *manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, poll := range m.polls {
		poll.Close()
	}
	m.polls = nil
	m.started = true
	return m.resize(m.NumLoops)
}

// Pick will select the poller for use each time based on the LoadBalance.
// Pollers are opened on the first call.
func (m *manager) Pick() (Poll, error) {
	m.mu.Lock()
	if !m.started {
		m.started = true
		if err := m.resize(m.NumLoops); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Unlock()
	return m.balance.Pick(), nil
}
