package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wsldankers/fruitbak/fingerprint"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "get", KindGet.String())
	assert.Equal(t, "put", KindPut.String())
	assert.Equal(t, "del", KindDel.String())
	assert.Equal(t, "has", KindHas.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestActionIsDoneBeforeAndAfterComplete(t *testing.T) {
	a := newAction(KindGet, fingerprint.Fingerprint("fp"))
	assert.False(t, a.IsDone())

	a.complete([]byte("value"), false, nil)
	assert.True(t, a.IsDone())
}

func TestActionWaitReturnsError(t *testing.T) {
	a := newAction(KindDel, fingerprint.Fingerprint("fp"))
	wantErr := assert.AnError
	go a.complete(nil, false, wantErr)

	err := a.Wait()
	assert.Equal(t, wantErr, err)
}

func TestActionWaitValueReturnsGetResult(t *testing.T) {
	a := newAction(KindGet, fingerprint.Fingerprint("fp"))
	go a.complete([]byte("payload"), false, nil)

	value, err := a.WaitValue()
	assert.NoError(t, err)
	assert.Equal(t, []byte("payload"), value)
}

func TestActionWaitFoundReturnsHasResult(t *testing.T) {
	a := newAction(KindHas, fingerprint.Fingerprint("fp"))
	go a.complete(nil, true, nil)

	found, err := a.WaitFound()
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestActionDoneChannelUnblocksMultipleWaiters(t *testing.T) {
	a := newAction(KindPut, fingerprint.Fingerprint("fp"))

	const waiters = 5
	results := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			<-a.Done()
			results <- struct{}{}
		}()
	}

	a.complete(nil, false, nil)
	for i := 0; i < waiters; i++ {
		<-results
	}
}
