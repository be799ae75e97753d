package memory_test

import (
	"testing"

	"github.com/xraph/crank/store"
	"github.com/xraph/crank/store/memory"
	"github.com/xraph/crank/store/storetest"
)

var _ store.Store = (*memory.Store)(nil)

func TestStore(t *testing.T) {
	storetest.Run(t, func(_ *testing.T) store.Store { return memory.New() })
}
