package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryBasics(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("acme"))
	assert.Equal(t, 0, r.Len())

	s := &Session{TenantID: "acme", status: StatusConnecting}
	r.Put("acme", s)
	assert.Same(t, s, r.Get("acme"))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"acme"}, r.Tenants())

	r.Remove("acme")
	assert.Nil(t, r.Get("acme"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRemoveUnknownTenant(t *testing.T) {
	r := NewRegistry()
	r.Remove("ghost") // must not panic
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tenant := fmt.Sprintf("tenant-%d", n%8)
			r.Put(tenant, &Session{TenantID: tenant})
			_ = r.Get(tenant)
			_ = r.Tenants()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, r.Len())
}
