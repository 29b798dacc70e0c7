// Command recorder is the daemon tying every capture-pipeline stage
// together (C1-C9): it attaches the kernel probe, drains its ring buffer,
// correlates events into per-connection pipelines, persists decrypted
// protocol frames, and serves the read-only HTTP/websocket/gRPC query
// surfaces over whatever accumulates in the store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ocx/mina-debugger/internal/config"
	"github.com/ocx/mina-debugger/internal/event"
	"github.com/ocx/mina-debugger/internal/httpapi"
	"github.com/ocx/mina-debugger/internal/ipc"
	"github.com/ocx/mina-debugger/internal/kprobe"
	"github.com/ocx/mina-debugger/internal/metrics"
	"github.com/ocx/mina-debugger/internal/pipeline"
	"github.com/ocx/mina-debugger/internal/pnet"
	"github.com/ocx/mina-debugger/internal/protocol"
	"github.com/ocx/mina-debugger/internal/registry"
	"github.com/ocx/mina-debugger/internal/ringbuf"
	"github.com/ocx/mina-debugger/internal/rpcfeed"
	"github.com/ocx/mina-debugger/internal/store"
	"github.com/ocx/mina-debugger/internal/store/pgstore"
	"github.com/ocx/mina-debugger/internal/wsfeed"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("recorder: .env load failed", "err", err)
	}
	cfg := config.Get()
	log := slog.Default()

	kv, err := openStore(cfg.Store)
	if err != nil {
		log.Error("recorder: opening store", "err", err)
		os.Exit(1)
	}
	defer kv.Close()

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	dispatcher := protocol.New(kv, nil, nil, log)
	hub := wsfeed.NewHub(log)

	networkID := pnet.NetworkIDFromAlias(cfg.Capture.NetworkID)
	newPipeline := func(id registry.ConnectionID, addr net.Addr, incoming bool) registry.Pipeline {
		// A fresh uuid per establish call guards against an fd being reused
		// by an unrelated connection under the same (pid, fd) key after the
		// registry has already torn the previous pipeline down.
		pipeID := fmt.Sprintf("%d:%d:%s", id.PID, id.FD, uuid.NewString())
		p, err := pipeline.New(pipeID, addr, incoming, networkID, kv, dispatcher, log)
		if err != nil {
			log.Warn("recorder: pipeline construction failed", "err", err)
			return nil
		}
		hub.Broadcast(map[string]any{
			"event": "connection_established", "pid": id.PID, "fd": id.FD,
			"addr": addr.String(), "incoming": incoming,
		})
		return p
	}

	origin, err := registry.BootTime(readBtimeLine)
	if err != nil {
		log.Warn("recorder: reading boot time, falling back to first-event origin", "err", err)
		origin = time.Time{}
	}
	reg := registry.New(origin, newPipeline, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var terminating atomic.Bool
	go func() {
		<-ctx.Done()
		terminating.Store(true)
	}()

	httpSrv := httpapi.New(kv)
	topMux := http.NewServeMux()
	topMux.Handle("/", httpSrv.Handler())
	topMux.HandleFunc("/ws", hub.ServeHTTP)
	topMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: topMux}
	go func() {
		log.Info("recorder: http listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("recorder: http server stopped", "err", err)
		}
	}()

	grpcServer := grpc.NewServer()
	rpcfeed.Register(grpcServer, rpcfeed.NewServer(func(ev *structpb.Struct) {
		hub.Broadcast(ev.AsMap())
	}, log))
	grpcLis, err := net.Listen("tcp", ":50051")
	if err != nil {
		log.Warn("recorder: gRPC listener failed, push feed disabled", "err", err)
	} else {
		go func() {
			log.Info("recorder: gRPC push feed listening", "addr", grpcLis.Addr())
			if err := grpcServer.Serve(grpcLis); err != nil {
				log.Warn("recorder: gRPC server stopped", "err", err)
			}
		}()
	}

	if cfg.Capture.Dry {
		log.Info("recorder: dry run, skipping kernel attachment")
		<-ctx.Done()
		shutdown(server, grpcServer, log)
		return
	}

	attachment, err := kprobe.Attach(log)
	if err != nil {
		log.Error("recorder: attaching kernel probe", "err", err)
		os.Exit(1)
	}
	defer attachment.Close()

	rd, err := ringbuf.NewReader(attachment.Objects().Events)
	if err != nil {
		log.Error("recorder: opening ring reader", "err", err)
		os.Exit(1)
	}

	ipcReaders := make(map[registry.IPCReaderKey]*ipc.Reader)

	go func() {
		<-ctx.Done()
		_ = rd.Close()
	}()

	for {
		result, err := rd.ReadBlocking(&terminating)
		if err != nil {
			if terminating.Load() {
				break
			}
			log.Error("recorder: fatal ring read error, terminating", "err", err)
			if errors.Is(err, ringbuf.ErrOverflown) {
				m.RingOverflowTotal.Inc()
			}
			terminating.Store(true)
			break
		}
		m.RingDistance.Set(float64(result.Distance))
		if result.Event == nil {
			continue
		}
		m.EventsProcessed.WithLabelValues(variantTag(result.Event)).Inc()
		if result.Event.FD == 0 || result.Event.FD == 1 || result.Event.FD == 2 {
			routeIPC(ipcReaders, reg, result.Event, m, log)
			continue
		}
		reg.Apply(result.Event)
		hub.Broadcast(map[string]any{
			"event": "sniffer_event", "pid": result.Event.PID, "fd": result.Event.FD,
		})
	}

	shutdown(server, grpcServer, log)
}

// routeIPC feeds one ring event observed on stdin/stdout (fd 0/1/2) through
// the per-(pid, direction) segment-table reader (C8, §4.8), permanently
// skipping a pair once it has been blacklisted.
func routeIPC(readers map[registry.IPCReaderKey]*ipc.Reader, reg *registry.Registry, ev *event.SnifferEvent, m *metrics.Metrics, log *slog.Logger) {
	var bytesIn []byte
	var incoming bool
	switch v := ev.Variant.(type) {
	case event.IncomingData:
		bytesIn, incoming = v.Bytes, true
	case event.OutgoingData:
		bytesIn, incoming = v.Bytes, false
	default:
		return
	}

	key := registry.IPCReaderKey{PID: ev.PID, Incoming: incoming}
	if reg.IsBlacklisted(key) {
		return
	}
	r, ok := readers[key]
	if !ok {
		r = &ipc.Reader{}
		readers[key] = r
	}

	msgs, blacklisted := r.Feed(bytesIn)
	if blacklisted {
		reg.Blacklist(key)
		m.IPCBlacklistEvents.Inc()
		return
	}
	for _, msg := range msgs {
		log.Debug("ipc message", "pid", ev.PID, "incoming", incoming, "opcode", msg.Opcode)
	}
}

func shutdown(server *http.Server, grpcServer *grpc.Server, log *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("recorder: http shutdown error", "err", err)
	}
	grpcServer.GracefulStop()
	log.Info("recorder: shut down")
}

func openStore(cfg config.StoreConfig) (store.KV, error) {
	switch cfg.Backend {
	case "postgres":
		return pgstore.Open(cfg.PgDSN, "chunks")
	default:
		return store.NewMemory(), nil
	}
}

func readBtimeLine() (string, error) {
	b, err := os.ReadFile("/proc/stat")
	if err != nil {
		return "", err
	}
	for _, line := range splitLines(string(b)) {
		if len(line) > 6 && line[:6] == "btime " {
			return line, nil
		}
	}
	return "", fmt.Errorf("recorder: no btime line in /proc/stat")
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func variantTag(ev *event.SnifferEvent) string {
	return fmt.Sprintf("%T", ev.Variant)
}
