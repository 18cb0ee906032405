package keyserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/faanross/pngrsa/internal/logging"
	"github.com/faanross/pngrsa/internal/params"
)

// Server answers TXT queries for keys in a Store. Only names inside its zone
// are answered authoritatively; anything else is refused.
type Server struct {
	zone  string
	store *Store
	log   logrus.FieldLogger
}

// NewServer creates a server for zone backed by store. log may be nil.
func NewServer(zone string, store *Store, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	return &Server{
		zone:  canonical(zone),
		store: store,
		log:   log.WithField("zone", canonical(zone)),
	}
}

// Zone returns the fully qualified zone name.
func (s *Server) Zone() string {
	return s.zone
}

// Name returns the owner name for label inside the zone.
func (s *Server) Name(label string) string {
	return canonical(strings.TrimSuffix(label, ".") + "." + s.zone)
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true

	size := dns.MinMsgSize
	if opt := r.IsEdns0(); opt != nil {
		size = int(opt.UDPSize())
		msg.SetEdns0(opt.UDPSize(), false)
	}

	for _, q := range r.Question {
		if !dns.IsSubDomain(s.zone, canonical(q.Name)) {
			msg.Rcode = dns.RcodeRefused
			continue
		}
		if q.Qtype != dns.TypeTXT {
			continue
		}
		s.handleTXT(q, msg)
	}

	if _, udp := w.RemoteAddr().(*net.UDPAddr); udp {
		msg.Truncate(size)
	}
	if err := w.WriteMsg(msg); err != nil {
		s.log.WithError(err).Warn("write response failed")
	}
}

func (s *Server) handleTXT(q dns.Question, msg *dns.Msg) {
	txt, ok := s.store.Lookup(q.Name)
	if !ok {
		msg.Rcode = dns.RcodeNameError
		s.log.WithField("name", q.Name).Debug("key not found")
		return
	}

	msg.Answer = append(msg.Answer, &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   q.Name,
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    params.TXT_TTL,
		},
		Txt: txt,
	})
	s.log.WithField("name", q.Name).Debug("served key")
}

// Serve answers queries arriving on pc until ctx is cancelled. started, if
// not nil, is called once the server is ready.
func (s *Server) Serve(ctx context.Context, pc net.PacketConn, started func()) error {
	return s.run(ctx, &dns.Server{PacketConn: pc, Handler: s}, started)
}

// ServeTCP answers queries on connections accepted from l until ctx is
// cancelled. Clients fall back to it when a UDP reply is truncated.
func (s *Server) ServeTCP(ctx context.Context, l net.Listener, started func()) error {
	return s.run(ctx, &dns.Server{Listener: l, Handler: s}, started)
}

func (s *Server) run(ctx context.Context, srv *dns.Server, started func()) error {
	ready := make(chan struct{})
	srv.NotifyStartedFunc = func() {
		close(ready)
		if started != nil {
			started()
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ActivateAndServe() }()

	// shutting down a server that has not started yet is an error, so wait
	select {
	case err := <-errCh:
		return fmt.Errorf("dns server: %w", err)
	case <-ready:
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("dns server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.ShutdownContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("dns server shutdown: %w", err)
	}
	<-errCh
	return nil
}

// ListenAndServe serves UDP and TCP on addr. started is called once both
// listeners are ready.
func (s *Server) ListenAndServe(ctx context.Context, addr string, started func()) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	// same port as UDP, so a ":0" address still pairs up
	l, err := net.Listen("tcp", pc.LocalAddr().String())
	if err != nil {
		pc.Close()
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	s.log.WithField("addr", pc.LocalAddr().String()).Info("key server listening")

	var pending sync.WaitGroup
	pending.Add(2)
	go func() {
		pending.Wait()
		if started != nil {
			started()
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Serve(ctx, pc, pending.Done) })
	g.Go(func() error { return s.ServeTCP(ctx, l, pending.Done) })
	return g.Wait()
}
