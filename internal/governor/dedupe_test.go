package governor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestDedupe_CoalescesConcurrentCallers(t *testing.T) {
	d := NewDedupe(nil)

	var calls int32
	release := make(chan struct{})
	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "result", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]interface{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := d.Do("GET /rest/v1/profiles", fn)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = v
		}(i)
	}

	// Let the callers pile onto the single in-flight request.
	for atomic.LoadInt32(&calls) == 0 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("underlying call ran %d times, want 1", got)
	}
	for i, v := range results {
		if v != "result" {
			t.Fatalf("caller %d got %v, want shared result", i, v)
		}
	}
}

func TestRequestKey_BodyHashDistinguishesWrites(t *testing.T) {
	a := RequestKey("POST", "/rest/v1/messages", []byte(`{"body":"hi"}`))
	b := RequestKey("POST", "/rest/v1/messages", []byte(`{"body":"yo"}`))
	if a == b {
		t.Fatal("different bodies must produce different keys")
	}

	c := RequestKey("GET", "/rest/v1/messages", nil)
	d := RequestKey("GET", "/rest/v1/messages", nil)
	if c != d {
		t.Fatal("identical requests must share a key")
	}
}
