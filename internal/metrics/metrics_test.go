package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveProvider(t *testing.T) {
	okBefore := testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("imap", "search", "ok"))
	errBefore := testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("imap", "search", "error"))

	ObserveProvider("imap", "search", nil)
	ObserveProvider("imap", "search", errors.New("boom"))
	ObserveProvider("imap", "search", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("imap", "search", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(ProviderCallsTotal.WithLabelValues("imap", "search", "error")))
}
