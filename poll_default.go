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

func (p *defaultPoll) Alloc() (operator *FDOperator) {
	op := p.opcache.alloc()
	op.poll = p
	return op
}

func (p *defaultPoll) Free(operator *FDOperator) {
	p.opcache.freeable(operator)
}

func (p *defaultPoll) setOperator(operator *FDOperator) {
	p.operators.Store(operator.FD, operator)
}

func (p *defaultPoll) getOperator(fd int) *FDOperator {
	v, ok := p.operators.Load(fd)
	if !ok {
		return nil
	}
	return v.(*FDOperator)
}

func (p *defaultPoll) delOperator(operator *FDOperator) {
	p.operators.CompareAndDelete(operator.FD, operator)
}

// appendHup detaches operator at once, a level-triggered hang-up would fire on every Wait otherwise.
func (p *defaultPoll) appendHup(operator *FDOperator) {
	p.hups = append(p.hups, operator.OnHup)
	p.detach(operator)
	operator.done()
}

func (p *defaultPoll) detach(operator *FDOperator) {
	if err := p.Control(operator, PollDetach); err != nil {
		logger.Printf("NETWAY: poller detach operator failed: %v", err)
	}
}

// onhups runs the hup callbacks of the last batch outside of the poll goroutine.
func (p *defaultPoll) onhups() {
	if len(p.hups) == 0 {
		return
	}
	hups := p.hups
	p.hups = nil
	go func(onhups []func(p Poll) error) {
		for i := range onhups {
			if onhups[i] != nil {
				onhups[i](p)
			}
		}
	}(hups)
}

// dispatch calls back a one-shot operator for the interest that fired.
func (p *defaultPoll) dispatch(operator *FDOperator, fired uint32) {
	if fired&interestRead != 0 && operator.OnRead != nil {
		operator.OnRead(p)
	}
	if fired&interestWrite != 0 && operator.OnWrite != nil {
		operator.OnWrite(p)
	}
}
