package pvbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/openbeamline/governor/common/governorerr"
	"github.com/openbeamline/governor/common/logger"
	"github.com/openbeamline/governor/internal/config"
	"github.com/openbeamline/governor/internal/controller"
	"github.com/openbeamline/governor/internal/supervisor"
	"github.com/openbeamline/governor/internal/target"
)

var (
	reMachine     = regexp.MustCompile(`^\{Gov:([^-}]+)\}(.+)$`)
	reDevice      = regexp.MustCompile(`^\{Gov:([^-}]+)-Dev:([^}]+)\}(.+)$`)
	reState       = regexp.MustCompile(`^\{Gov:([^-}]+)-St:([^}]+)\}(.+)$`)
	reTransition  = regexp.MustCompile(`^\{Gov:([^-}]+)-Tr:([^}]+)\}(.+)$`)
	rePosTarget   = regexp.MustCompile(`^Pos:(.+)-Pos$`)
	reDeviceLimit = regexp.MustCompile(`^(LLim|HLim):(.+)-Pos$`)
)

// Server is the PV binding layer of spec §4.7: an HTTP+websocket front
// end, built on the teacher's gorilla/mux router, that decodes channel
// names per §6 and routes reads/writes into the Governor's live object
// graph. Status updates are pushed eagerly to subscribed websocket
// clients, the way the teacher's occ/peanut client streams environment
// events.
type Server struct {
	prefix string
	gov    *supervisor.Governor
	store  *target.Store
	log    *logger.Log

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	subMu sync.Mutex
	subs  map[uuid.UUID]chan []byte

	killFunc func()
}

// NewServer builds the PV binding layer. Call SetGovernor once the
// Governor and its Controllers exist (Controllers need Publish as their
// onPublish callback, which in turn needs a live *Server — SetGovernor
// closes that cycle without requiring Server to construct the Governor
// itself).
func NewServer(prefix string, store *target.Store, log *logger.Log) *Server {
	s := &Server{
		prefix: prefix,
		store:  store,
		log:    log,
		subs:   make(map[uuid.UUID]chan []byte),
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/pv/{name:.*}", s.handleRead).Methods(http.MethodGet)
	s.router.HandleFunc("/pv/{name:.*}", s.handleWrite).Methods(http.MethodPut, http.MethodPost)
	s.router.HandleFunc("/ws", s.handleWebsocket)
	return s
}

// SetGovernor wires the Server to a live Governor. Must be called
// before ListenAndServe.
func (s *Server) SetGovernor(g *supervisor.Governor) { s.gov = g }

// Router exposes the underlying mux.Router so callers can mount
// additional handlers (metrics, health checks) before ListenAndServe.
func (s *Server) Router() *mux.Router { return s.router }

// SetKillFunc registers the callback `{Gov}Kill-Cmd` invokes after the
// Governor's own orderly shutdown (spec §4.6): stopping the HTTP
// listener itself, which only the caller of ListenAndServe can do.
func (s *Server) SetKillFunc(f func()) { s.killFunc = f }

// ListenAndServe starts the HTTP server. Blocks until it exits.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Publish is passed as every Controller's onPublish callback; it
// broadcasts the snapshot to every subscribed websocket client as a
// small JSON envelope. The PV values themselves remain the source of
// truth in each Controller; this channel exists purely to let clients
// avoid polling.
func (s *Server) Publish(snap controller.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		s.log.Errorf("pvbus: marshal snapshot: %v", err)
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- payload:
		default:
			s.log.WithField("subscriber", id.String()).Warn("pvbus: slow websocket subscriber, dropping update")
		}
	}
}

// limitKindForTag maps a decoded LLim/HLim channel tag to the
// config.LimitKind SetDeviceLimit expects.
func limitKindForTag(tag string) config.LimitKind {
	if tag == LimitHighTag {
		return config.LimitHigh
	}
	return config.LimitLow
}

func (s *Server) stripPrefix(name string) string {
	if s.prefix == "" {
		return name
	}
	return strings.TrimPrefix(name, s.prefix)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	name := s.stripPrefix(mux.Vars(r)["name"])
	value, err := s.read(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, value)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	name := s.stripPrefix(mux.Vars(r)["name"])
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.write(name, strings.TrimSpace(string(body))); err != nil {
		if _, ok := err.(*governorerr.CommandRejectedError); ok {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("pvbus: websocket upgrade: %v", err)
		return
	}
	id := uuid.New()
	ch := make(chan []byte, 32)

	s.subMu.Lock()
	s.subs[id] = ch
	s.subMu.Unlock()

	defer func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
		_ = conn.Close()
	}()

	for payload := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// read dispatches a decoded channel name to whichever live object holds
// its value, per spec §4.7's read-side routing.
func (s *Server) read(name string) (string, error) {
	if name == Global(SuffixListI) {
		return strings.Join(s.gov.Names(), ","), nil
	}

	if m := reState.FindStringSubmatch(name); m != nil {
		machine, stateKey, suffix := m[1], m[2], m[3]
		c, ok := s.gov.Controller(machine)
		if !ok {
			return "", fmt.Errorf("no such machine %q", machine)
		}
		if suffix == "Sts:Reach-Sts" {
			if c.Last().Reachable[stateKey] {
				return "1", nil
			}
			return "0", nil
		}
		if lm := reDeviceLimit.FindStringSubmatch(suffix); lm != nil {
			which, devKey := limitKindForTag(lm[1]), lm[2]
			v, ok := c.Machine().Limit(stateKey, devKey, which)
			if !ok {
				return "", fmt.Errorf("no such limit %s on state %q device %q", lm[1], stateKey, devKey)
			}
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		}
		return "", fmt.Errorf("no such state channel suffix %q", suffix)
	}

	if m := reTransition.FindStringSubmatch(name); m != nil {
		machine, edge, suffix := m[1], m[2], m[3]
		c, ok := s.gov.Controller(machine)
		if !ok {
			return "", fmt.Errorf("no such machine %q", machine)
		}
		if suffix == SuffixActiveTrSts {
			if c.Last().ActiveTransition == edge {
				return "1", nil
			}
			return "0", nil
		}
		return "", fmt.Errorf("no such transition channel suffix %q", suffix)
	}

	if m := reDevice.FindStringSubmatch(name); m != nil {
		machine, devKey, suffix := m[1], m[2], m[3]
		c, ok := s.gov.Controller(machine)
		if !ok {
			return "", fmt.Errorf("no such machine %q", machine)
		}
		if pm := rePosTarget.FindStringSubmatch(suffix); pm != nil {
			d, ok := c.Machine().Device(devKey)
			if !ok {
				return "", fmt.Errorf("no such device %q", devKey)
			}
			v, ok := d.TargetValue(pm[1])
			if !ok {
				return "", fmt.Errorf("no such target %q on device %q", pm[1], devKey)
			}
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		}
		if suffix == SuffixTgtsI {
			d, ok := c.Machine().Device(devKey)
			if !ok {
				return "", fmt.Errorf("no such device %q", devKey)
			}
			return strings.Join(d.TargetNames(), ","), nil
		}
		return "", fmt.Errorf("no such device channel suffix %q", suffix)
	}

	if m := reMachine.FindStringSubmatch(name); m != nil {
		machine, suffix := m[1], m[2]
		c, ok := s.gov.Controller(machine)
		if !ok {
			return "", fmt.Errorf("no such machine %q", machine)
		}
		snap := c.Last()
		switch suffix {
		case SuffixStatusSts:
			return string(snap.Status), nil
		case SuffixStateI:
			return snap.State, nil
		case SuffixMsgI:
			return snap.Msg, nil
		case SuffixReachI:
			var reachable []string
			for state, ok := range snap.Reachable {
				if ok {
					reachable = append(reachable, state)
				}
			}
			return strings.Join(reachable, ","), nil
		case SuffixDevsI:
			var devs []string
			for key := range c.Machine().Devices() {
				devs = append(devs, key)
			}
			return strings.Join(devs, ","), nil
		case SuffixStatesI:
			var states []string
			for key := range c.Machine().Graph.States {
				states = append(states, key)
			}
			return strings.Join(states, ","), nil
		default:
			return "", fmt.Errorf("no such machine channel suffix %q", suffix)
		}
	}

	return "", fmt.Errorf("unrecognized channel %q", name)
}

// write dispatches a decoded channel name as a command or a target
// store write, per spec §4.7's write-side routing.
func (s *Server) write(name, value string) error {
	switch name {
	case Global(SuffixActiveSel):
		return s.gov.SetGlobalActive(value == "Active")
	case Global(SuffixConfigSel):
		return s.gov.SelectActive(value)
	case Global(SuffixAbortCmdG):
		return s.gov.Abort()
	case Global(SuffixKillCmd):
		s.gov.Kill()
		if s.killFunc != nil {
			s.killFunc()
		}
		return nil
	}

	if m := reState.FindStringSubmatch(name); m != nil {
		machine, stateKey, suffix := m[1], m[2], m[3]
		c, ok := s.gov.Controller(machine)
		if !ok {
			return fmt.Errorf("no such machine %q", machine)
		}
		if lm := reDeviceLimit.FindStringSubmatch(suffix); lm != nil {
			which, devKey := limitKindForTag(lm[1]), lm[2]
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("limit %s on state %q device %q: %w", lm[1], stateKey, devKey, err)
			}
			return c.Machine().SetDeviceLimit(stateKey, devKey, which, f)
		}
		return fmt.Errorf("no such writable state channel suffix %q", suffix)
	}

	if m := reDevice.FindStringSubmatch(name); m != nil {
		machine, devKey, suffix := m[1], m[2], m[3]
		c, ok := s.gov.Controller(machine)
		if !ok {
			return fmt.Errorf("no such machine %q", machine)
		}
		if pm := rePosTarget.FindStringSubmatch(suffix); pm != nil {
			targetName := pm[1]
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("target %q: %w", targetName, err)
			}
			if err := c.Machine().SetDevicePosition(devKey, targetName, f); err != nil {
				return err
			}
			if s.store != nil {
				s.store.Write(machine, devKey, targetName, f)
			}
			return nil
		}
		return fmt.Errorf("no such writable device channel suffix %q", suffix)
	}

	if m := reMachine.FindStringSubmatch(name); m != nil {
		machine, suffix := m[1], m[2]
		c, ok := s.gov.Controller(machine)
		if !ok {
			return fmt.Errorf("no such machine %q", machine)
		}
		switch suffix {
		case SuffixGoCmd:
			return c.Go(value)
		case SuffixAbortCmd:
			return c.Abort()
		default:
			return fmt.Errorf("no such writable machine channel suffix %q", suffix)
		}
	}

	return fmt.Errorf("unrecognized or read-only channel %q", name)
}
