/*
 * Copyright 2025 CloudWeGo Authors
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


package runner

import (
	"context"
	"sync"
	"testing"
)

func runAll(t *testing.T, n int) {
	t.Helper()
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		RunTask(context.Background(), func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	wg.Wait()
	if count != n {
		t.Fatalf("ran %d tasks, expect %d", count, n)
	}
}

func TestRunTask(t *testing.T) {
	defer Reset()

	runAll(t, 100)

	t.Setenv("USE_CLOUDWEGO_GOPOOL", "true")
	Reset()
	runAll(t, 100)

	UseGoRunTask()
	runAll(t, 100)
}
