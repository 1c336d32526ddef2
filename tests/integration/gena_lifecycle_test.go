// Package integration exercises the GENA control-point stack wired the
// way cmd/genacp wires it: a real net/http client and server standing
// in for the wire, rather than the in-process fakes internal/gena's own
// unit tests use.
package integration

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/genacp/internal/collab"
	"github.com/coachpo/genacp/internal/gena"
	"github.com/coachpo/genacp/internal/httptransport"
	"github.com/coachpo/genacp/internal/pool"
	"github.com/coachpo/genacp/internal/timer"
	"github.com/coachpo/genacp/internal/xmlprop"
)

// fakeNetIfs always resolves loopback, the same stand-in used by
// internal/gena's own package tests, so the CALLBACK header can be
// built without depending on the host's real network configuration.
type fakeNetIfs struct{}

func (fakeNetIfs) InterfaceForDestination(net.Addr) (net.Interface, net.IP, bool) {
	return net.Interface{Name: "lo"}, net.ParseIP("127.0.0.1"), true
}

// fakePublisher is an httptest.Server standing in for the remote event
// source: it answers SUBSCRIBE (first-subscribe and renew), and
// UNSUBSCRIBE, the same three verbs wire.go issues.
type fakePublisher struct {
	mu             sync.Mutex
	subscribeDelay time.Duration
	renews         int
	unsubscribes   int
}

func newFakePublisher(subscribeDelay time.Duration) *fakePublisher {
	return &fakePublisher{subscribeDelay: subscribeDelay}
}

func (p *fakePublisher) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "SUBSCRIBE":
			if r.Header.Get("SID") != "" {
				p.mu.Lock()
				p.renews++
				n := p.renews
				p.mu.Unlock()
				w.Header().Set("SID", "uuid:renewed-"+strconv.Itoa(n))
				w.Header().Set("TIMEOUT", "Second-60")
				w.WriteHeader(http.StatusOK)
				return
			}
			if p.subscribeDelay > 0 {
				time.Sleep(p.subscribeDelay)
			}
			w.Header().Set("SID", "uuid:first")
			w.Header().Set("TIMEOUT", "Second-60")
			w.WriteHeader(http.StatusOK)
		case "UNSUBSCRIBE":
			p.mu.Lock()
			p.unsubscribes++
			p.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (p *fakePublisher) unsubscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsubscribes
}

// newNotifyServer wraps engine.Notify with the same HTTP-to-map
// adapter cmd/genacp's own notifyHandler uses (gena.HeadersFromHTTP),
// so a NOTIFY delivered over the wire exercises the real header
// parsing path, not a hand-built map.
func newNotifyServer(engine *gena.Engine) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result := engine.Notify(gena.NotifyRequest{
			Headers:     gena.HeadersFromHTTP(r.Header),
			Body:        body,
			ContentType: r.Header.Get("Content-Type"),
		})
		w.WriteHeader(result.Status)
	}))
}

func postNotify(t *testing.T, url, sid string, seq int, nt, nts string, body []byte) int {
	t.Helper()
	req, err := http.NewRequest("NOTIFY", url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("SID", sid)
	req.Header.Set("SEQ", strconv.Itoa(seq))
	req.Header.Set("NT", nt)
	req.Header.Set("NTS", nts)
	req.Header.Set("Content-Type", "text/xml")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func propertySetBody(name, value string) []byte {
	return []byte(`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">` +
		`<e:property><` + name + `>` + value + `</` + name + `></e:property></e:propertyset>`)
}

// TestGENASubscribeNotifyRaceRenewAndShutdownDrain drives SUBSCRIBE,
// a NOTIFY that races an in-flight SUBSCRIBE (spec.md §8 scenario 2),
// RENEW, and the shutdown-drain Unregister performs, all over real
// net/http round trips against httptest.Server fixtures rather than
// internal/gena's in-process fakeHTTP double.
func TestGENASubscribeNotifyRaceRenewAndShutdownDrain(t *testing.T) {
	pub := newFakePublisher(300 * time.Millisecond)
	pubServer := httptest.NewServer(pub.handler())
	defer pubServer.Close()

	p, err := pool.New(pool.Attr{
		MinThreads:     1,
		MaxThreads:     4,
		JobsPerThread:  4,
		MaxIdleTime:    50 * time.Millisecond,
		StarvationTime: 20 * time.Millisecond,
		MaxJobsTotal:   64,
	})
	require.NoError(t, err)
	defer p.Shutdown()

	ts := timer.New()
	require.NoError(t, ts.Start(context.Background(), p))
	defer ts.Stop()

	engine := gena.New(gena.DefaultKnobs(), gena.Deps{
		HTTP:   httptransport.New(httptransport.DefaultRetryPolicy(), httptransport.RateLimit{RequestsPerSecond: 1000, Burst: 1000}, false),
		XML:    xmlprop.New(),
		NetIfs: fakeNetIfs{},
		Pool:   p,
		Timer:  ts,
	})

	var mu sync.Mutex
	var receivedSeqs []int
	received := make(chan struct{}, 4)
	handle := engine.Handles().RegisterClient(func(evt collab.CallbackEvent) {
		if evt.Kind != collab.EventReceived {
			return
		}
		mu.Lock()
		receivedSeqs = append(receivedSeqs, evt.EventKey)
		mu.Unlock()
		received <- struct{}{}
	}, nil)

	notifySrv := newNotifyServer(engine)
	defer notifySrv.Close()

	// The publisher stalls its SUBSCRIBE response, widening the window
	// in which a NOTIFY for seq 0 can race ahead of SID registration.
	// Without Notify's subscribeLock drain (notify.go's findSubscriber),
	// this request would see no matching subscription yet and bounce
	// with 412 instead of blocking for the in-flight SUBSCRIBE.
	var subWG sync.WaitGroup
	subWG.Add(1)
	var sid string
	var grantedTimeout time.Duration
	var subErr error
	go func() {
		defer subWG.Done()
		sid, grantedTimeout, subErr = engine.Subscribe(context.Background(), handle, pubServer.URL, 60*time.Second)
	}()

	time.Sleep(50 * time.Millisecond) // let SUBSCRIBE start and take subscribeLock
	raceStart := time.Now()
	raceStatus := postNotify(t, notifySrv.URL, "uuid:first", 0, "upnp:event", "upnp:propchange", propertySetBody("Volume", "5"))
	raceElapsed := time.Since(raceStart)

	subWG.Wait()
	require.NoError(t, subErr)
	require.Equal(t, "uuid:first", sid)
	require.Equal(t, 60*time.Second, grantedTimeout)

	require.Equal(t, http.StatusOK, raceStatus, "a NOTIFY racing an in-flight SUBSCRIBE must block and then succeed, not bounce with 412")
	require.GreaterOrEqual(t, raceElapsed, 200*time.Millisecond, "NOTIFY returned before the SUBSCRIBE it raced against could have completed")

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked for the raced NOTIFY")
	}
	mu.Lock()
	require.Contains(t, receivedSeqs, 0)
	mu.Unlock()

	// RENEW: re-subscribe the live SID ahead of expiry; the wire's new
	// SID must replace the old one.
	renewedTimeout, err := engine.Renew(context.Background(), handle, sid, 60*time.Second)
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, renewedTimeout)

	// A NOTIFY against the stale pre-renew SID must now be rejected:
	// Renew replaces the SID in place rather than keeping both live.
	staleStatus := postNotify(t, notifySrv.URL, "uuid:first", 1, "upnp:event", "upnp:propchange", propertySetBody("Volume", "6"))
	require.Equal(t, http.StatusPreconditionFailed, staleStatus)

	// Shutdown-drain: Unregister fans out UNSUBSCRIBE for every live
	// subscription and clears local state even though the wire call is
	// best-effort.
	require.NoError(t, engine.Unregister(context.Background(), handle))
	require.Equal(t, 1, pub.unsubscribeCount())

	_, err = engine.Renew(context.Background(), handle, "uuid:renewed-1", time.Second)
	require.Error(t, err, "Unregister must have removed the subscription from local state")
}
