package collyexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

func testConfig() Config {
	return Config{
		ContainerSelector:   "div.product",
		SlotsSelector:       "ul.slots li",
		PurchasableSelector: "button.buy",
		ListedSelector:      "span.listed",
	}
}

func newTestSession(t *testing.T) watch.Session {
	t.Helper()
	executor, err := New(testConfig())
	require.NoError(t, err)
	session, err := executor.NewSession(context.Background(), &watch.ProxyUnit{ID: "u1"})
	require.NoError(t, err)
	return session
}

func TestExecute_ExtractsStructuredResult(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div class="product">
			<ul class="slots"><li> 2026-09-01 </li><li>2026-09-02</li></ul>
			<button class="buy">Buy now</button>
		</div></body></html>`))
	}))
	defer server.Close()

	session := newTestSession(t)
	result, snapshot, err := session.Execute(context.Background(), watch.Target{URL: server.URL, Group: "alpha"}, 5*time.Second)
	require.NoError(t, err)
	require.Nil(t, snapshot)
	require.NotNil(t, result)
	require.Equal(t, []string{"2026-09-01", "2026-09-02"}, result.Slots)
	require.True(t, result.Purchasable)
	require.False(t, result.Listed)
	require.True(t, result.Available())
}

func TestExecute_MissingContainerYieldsSnapshot(t *testing.T) {
	t.Parallel()

	page := `<html><body><p>interstitial challenge</p></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	session := newTestSession(t)
	result, snapshot, err := session.Execute(context.Background(), watch.Target{URL: server.URL, Group: "alpha"}, 5*time.Second)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, page, string(snapshot))
}

func TestExecute_ServerErrorPropagates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	session := newTestSession(t)
	_, _, err := session.Execute(context.Background(), watch.Target{URL: server.URL, Group: "alpha"}, 5*time.Second)
	require.Error(t, err)
}

func TestNewRequiresSelectors(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SlotsSelector: "li"})
	require.Error(t, err)
	_, err = New(Config{ContainerSelector: "div"})
	require.Error(t, err)
}
