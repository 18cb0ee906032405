package keyserver

import (
	"context"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/pngrsa/internal/params"
	"github.com/faanross/pngrsa/internal/rsakey"
)

var (
	keyOnce sync.Once
	testKey *rsakey.KeyPair
	keyErr  error
)

func setupKey(t *testing.T) *rsakey.KeyPair {
	t.Helper()
	keyOnce.Do(func() {
		testKey, keyErr = rsakey.Generate(512)
	})
	require.NoError(t, keyErr)
	return testKey
}

func samePublic(t *testing.T, want, got *rsakey.KeyPair) {
	t.Helper()
	assert.Zero(t, want.N().Cmp(got.N()), "modulus")
	assert.Zero(t, want.E().Cmp(got.E()), "public exponent")
	assert.Equal(t, want.Bits(), got.Bits())
	assert.False(t, got.HasPrivate())
}

func TestEncodeDecode(t *testing.T) {
	key := setupKey(t)

	txt := Encode(key)
	assert.Equal(t, params.TXT_VERSION, txt[0])
	assert.Equal(t, "bits=512", txt[1])
	for _, s := range txt {
		assert.LessOrEqual(t, len(s), 255, s)
	}

	got, err := Decode(txt)
	require.NoError(t, err)
	samePublic(t, key, got)

	// order is irrelevant
	reversed := make([]string, len(txt))
	for i, s := range txt {
		reversed[len(txt)-1-i] = s
	}
	got, err = Decode(reversed)
	require.NoError(t, err)
	samePublic(t, key, got)
}

func TestEncodeSplitsLongNumbers(t *testing.T) {
	n, ok := new(big.Int).SetString(strings.Repeat("7", 600), 10)
	require.True(t, ok)
	kp := rsakey.New(n, n, nil)

	txt := Encode(kp)
	var nParts, eParts int
	for _, s := range txt {
		assert.LessOrEqual(t, len(s), 255)
		switch {
		case strings.HasPrefix(s, "n"):
			nParts++
		case strings.HasPrefix(s, "e"):
			eParts++
		}
	}
	assert.Equal(t, 3, nParts)
	assert.Equal(t, 3, eParts)

	got, err := Decode(txt)
	require.NoError(t, err)
	assert.Zero(t, n.Cmp(got.N()))
}

func TestDecodeErrors(t *testing.T) {
	key := setupKey(t)
	good := Encode(key)

	tests := []struct {
		name string
		txt  []string
	}{
		{"NoVersion", good[1:]},
		{"OtherVersion", append([]string{"v=pngrsa9"}, good[1:]...)},
		{"NoEquals", append(append([]string{}, good...), "junk")},
		{"UnknownField", append(append([]string{}, good...), "x0=1")},
		{"BadIndex", append(append([]string{}, good...), "n-1=5")},
		{"Duplicate", append(append([]string{}, good...), good[len(good)-1])},
		{"MissingPart", removeField(good, "n0=")},
		{"MissingExponent", removeField(good, "e0=")},
		{"BitsMismatch", append([]string{params.TXT_VERSION, "bits=4096"}, good[2:]...)},
		{"BadBits", append([]string{params.TXT_VERSION, "bits=many"}, good[2:]...)},
		{"NotANumber", []string{params.TXT_VERSION, "e0=3", "n0=12ab"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.txt)
			assert.ErrorIs(t, err, ErrBadRecord)
		})
	}
}

func removeField(txt []string, prefix string) []string {
	var out []string
	for _, s := range txt {
		if !strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

func TestStore(t *testing.T) {
	key := setupKey(t)
	store := NewStore()

	rec, err := store.Publish("Alice.Keys.Example.", key)
	require.NoError(t, err)
	assert.Equal(t, "alice.keys.example.", rec.Name)
	assert.Equal(t, 512, rec.Bits)

	txt, ok := store.Lookup("alice.keys.example")
	require.True(t, ok)
	assert.Equal(t, Encode(key), txt)

	_, ok = store.Lookup("bob.keys.example.")
	assert.False(t, ok)
	assert.Equal(t, 1, store.List()[0].Served)

	_, err = store.Publish("alice.keys.example", key)
	require.NoError(t, err)
	assert.Len(t, store.List(), 1)
	assert.Equal(t, Stats{Keys: 1, Queries: 2, Misses: 1}, store.Stats())

	_, err = store.Publish("", key)
	assert.Error(t, err)
	_, err = store.Publish("bad..name", key)
	assert.Error(t, err)
	_, err = store.Publish("carol.keys.example", nil)
	assert.Error(t, err)

	assert.True(t, store.Remove("ALICE.keys.example"))
	assert.False(t, store.Remove("alice.keys.example"))
	assert.Zero(t, store.Stats().Keys)
}

// startServer runs a server on a loopback port, UDP and TCP, for the life of
// the test.
func startServer(t *testing.T, zone string, store *Store) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	l, err := net.Listen("tcp", pc.LocalAddr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(zone, store, nil)
	serve := []func(func()) error{
		func(started func()) error { return srv.Serve(ctx, pc, started) },
		func(started func()) error { return srv.ServeTCP(ctx, l, started) },
	}

	done := make(chan error, len(serve))
	for _, fn := range serve {
		started := make(chan struct{})
		go func() { done <- fn(func() { close(started) }) }()
		select {
		case <-started:
		case err := <-done:
			cancel()
			t.Fatalf("server did not start: %v", err)
		}
	}
	t.Cleanup(func() {
		cancel()
		for range serve {
			assert.NoError(t, <-done)
		}
	})
	return pc.LocalAddr().String()
}

func TestFetch(t *testing.T) {
	key := setupKey(t)
	store := NewStore()
	srv := NewServer("keys.example", store, nil)
	assert.Equal(t, "keys.example.", srv.Zone())
	assert.Equal(t, "alice.keys.example.", srv.Name("alice"))

	_, err := store.Publish(srv.Name("alice"), key)
	require.NoError(t, err)

	addr := startServer(t, "keys.example", store)
	ctx := context.Background()

	got, err := Fetch(ctx, addr, "alice.keys.example")
	require.NoError(t, err)
	samePublic(t, key, got)

	_, err = Fetch(ctx, addr, "bob.keys.example")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Fetch(ctx, addr, "alice.elsewhere.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REFUSED")
}

func TestFetchLargeKey(t *testing.T) {
	if testing.Short() {
		t.Skip("4096-bit key generation")
	}
	key, err := rsakey.Generate(4096)
	require.NoError(t, err)

	store := NewStore()
	_, err = store.Publish("big.keys.example", key)
	require.NoError(t, err)
	addr := startServer(t, "keys.example", store)

	got, err := Fetch(context.Background(), addr, "big.keys.example")
	require.NoError(t, err)
	samePublic(t, key, got)
}

func TestTruncatedReplyOverTCP(t *testing.T) {
	key, err := rsakey.Generate(1024)
	require.NoError(t, err)

	store := NewStore()
	_, err = store.Publish("wide.keys.example", key)
	require.NoError(t, err)
	addr := startServer(t, "keys.example", store)

	// no EDNS0, so the reply is capped at 512 bytes
	m := new(dns.Msg)
	m.SetQuestion("wide.keys.example.", dns.TypeTXT)
	resp, _, err := new(dns.Client).Exchange(m, addr)
	require.NoError(t, err)
	assert.True(t, resp.Truncated)

	tcp := &dns.Client{Net: "tcp"}
	resp, _, err = tcp.Exchange(m, addr)
	require.NoError(t, err)
	assert.False(t, resp.Truncated)
	require.Len(t, resp.Answer, 1)
	got, err := Decode(resp.Answer[0].(*dns.TXT).Txt)
	require.NoError(t, err)
	samePublic(t, key, got)
}

func TestListenAndServe(t *testing.T) {
	key := setupKey(t)
	store := NewStore()
	_, err := store.Publish("alice.keys.example", key)
	require.NoError(t, err)

	// find a free port, then hand it to the server
	free, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := free.LocalAddr().String()
	require.NoError(t, free.Close())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- NewServer("keys.example", store, nil).ListenAndServe(ctx, addr, func() { close(started) })
	}()
	select {
	case <-started:
	case err := <-done:
		t.Skipf("port %s taken before the server bound it: %v", addr, err)
	}

	for _, network := range []string{"udp", "tcp"} {
		m := new(dns.Msg)
		m.SetQuestion("alice.keys.example.", dns.TypeTXT)
		resp, _, err := (&dns.Client{Net: network}).Exchange(m, addr)
		require.NoError(t, err, network)
		assert.Len(t, resp.Answer, 1, network)
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestServeNonTXT(t *testing.T) {
	key := setupKey(t)
	store := NewStore()
	_, err := store.Publish("alice.keys.example", key)
	require.NoError(t, err)
	addr := startServer(t, "keys.example", store)

	m := new(dns.Msg)
	m.SetQuestion("alice.keys.example.", dns.TypeA)
	resp, _, err := new(dns.Client).Exchange(m, addr)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.True(t, resp.Authoritative)
	assert.Empty(t, resp.Answer)
}

func TestStorePersistence(t *testing.T) {
	key := setupKey(t)
	path := filepath.Join(t.TempDir(), "keys.json")

	empty, err := LoadStore(path)
	require.NoError(t, err)
	assert.Empty(t, empty.List())

	store := NewStore()
	_, err = store.Publish("alice.keys.example", key)
	require.NoError(t, err)
	_, err = store.Publish("bob.keys.example", key.Public())
	require.NoError(t, err)
	store.Lookup("alice.keys.example")
	require.NoError(t, store.Save(path))

	loaded, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, store.Stats(), loaded.Stats())
	require.Len(t, loaded.List(), 2)
	assert.Equal(t, 1, loaded.List()[0].Served)

	txt, ok := loaded.Lookup("alice.keys.example.")
	require.True(t, ok)
	assert.Equal(t, Encode(key), txt)

	t.Run("Damaged", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		damaged := filepath.Join(t.TempDir(), "damaged.json")
		require.NoError(t, os.WriteFile(damaged, []byte(strings.Replace(string(raw), "v=pngrsa1", "v=pngrsa0", 1)), 0644))

		_, err = LoadStore(damaged)
		assert.ErrorIs(t, err, ErrBadRecord)
	})
}

func TestStoreExpire(t *testing.T) {
	key := setupKey(t)
	store := NewStore()
	_, err := store.Publish("old.keys.example", key)
	require.NoError(t, err)

	assert.Zero(t, store.Expire(time.Hour))
	assert.Equal(t, 1, store.Expire(0))
	assert.Zero(t, store.Stats().Keys)
	_, ok := store.Lookup("old.keys.example")
	assert.False(t, ok)
}
