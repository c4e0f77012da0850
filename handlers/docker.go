package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"fleetd/common"
	"fleetd/database"
	"fleetd/services"
	"fleetd/utils"
)

// SetupContainerRoutes wires container inspection, logs, stats, lifecycle
// actions and the websocket exec console.
func SetupContainerRoutes(router chi.Router) {
	router.Route("/containers", func(r chi.Router) {
		r.Route("/hosts/{hostname}", func(r chi.Router) {
			r.Get("/", handleContainersList)
			r.Route("/{ctr}", func(r chi.Router) {
				r.Get("/", handleContainerGet)
				r.Get("/logs", handleContainerLogs)
				r.Get("/logs/stream", handleContainerLogsStream)
				r.Get("/stats", handleContainerStats)
				r.Post("/action", handleContainerAction)
			})
		})
	})

	router.Get("/ws/hosts/{hostname}/containers/{ctr}/exec", handleContainerExec)
}

func handleContainersList(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	containers, err := database.ListContainersByHost(r.Context(), hostname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"containers": containers})
}

func handleContainerGet(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	ctr := chi.URLParam(r, "ctr")
	out, err := database.GetContainerByHostAndName(r.Context(), hostname, ctr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"container": out})
}

func dockerClientFor(r *http.Request, hostname string) (*hostClient, error) {
	h, err := database.GetHostByName(r.Context(), hostname)
	if err != nil {
		return nil, err
	}
	cli, done, err := services.DockerClientForHost(r.Context(), h)
	if err != nil {
		return nil, err
	}
	return &hostClient{HostRow: h, cli: cli, done: done}, nil
}

type hostClient struct {
	database.HostRow
	cli  *client.Client
	done func()
}

func (hc *hostClient) Close() { hc.done() }

// handleContainerLogs returns container logs as plain text.
func handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	ctr := chi.URLParam(r, "ctr")

	hc, err := dockerClientFor(r, hostname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer hc.Close()

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}
	if tail := strings.TrimSpace(r.URL.Query().Get("tail")); tail != "" {
		opts.Tail = tail
	}
	rc, err := hc.cli.ContainerLogs(r.Context(), ctr, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.Copy(w, rc)
}

// handleContainerLogsStream streams container logs via Server-Sent Events.
func handleContainerLogsStream(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	ctr := chi.URLParam(r, "ctr")

	hc, err := dockerClientFor(r, hostname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer hc.Close()

	inspect, err := hc.cli.ContainerInspect(r.Context(), ctr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	}
	if s := strings.TrimSpace(r.URL.Query().Get("since")); s != "" {
		opts.Since = s
	}
	if t := strings.TrimSpace(r.URL.Query().Get("tail")); t != "" {
		opts.Tail = t
	}

	rc, err := hc.cli.ContainerLogs(r.Context(), ctr, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer rc.Close()

	fl, ok := utils.WriteSSEHeader(w)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	stdout := utils.NewSSELineWriter(w, fl, "stdout")
	stderr := utils.NewSSELineWriter(w, fl, "stderr")

	tick := time.NewTicker(15 * time.Second)
	defer tick.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if inspect.Config != nil && inspect.Config.Tty {
			// no multiplexing when TTY true
			sc := bufio.NewScanner(rc)
			for sc.Scan() {
				_, _ = stdout.Write(append(sc.Bytes(), '\n'))
			}
		} else {
			_, _ = stdcopy.StdCopy(stdout, stderr, rc)
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-tick.C:
			// comment line, keeps idle proxies from cutting the stream
			stdout.Keepalive()
		case <-r.Context().Done():
			return
		}
	}
}

// handleContainerStats proxies one docker stats sample as JSON.
func handleContainerStats(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	ctr := chi.URLParam(r, "ctr")

	hc, err := dockerClientFor(r, hostname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer hc.Close()

	stats, err := hc.cli.ContainerStats(r.Context(), ctr, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer stats.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.Copy(w, stats.Body)
}

func handleContainerAction(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	ctr := chi.URLParam(r, "ctr")
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	hc, err := dockerClientFor(r, hostname)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer hc.Close()

	switch body.Action {
	case "start":
		err = hc.cli.ContainerStart(r.Context(), ctr, container.StartOptions{})
	case "stop":
		timeout := 10
		err = hc.cli.ContainerStop(r.Context(), ctr, container.StopOptions{Timeout: &timeout})
	case "restart":
		timeout := 10
		err = hc.cli.ContainerRestart(r.Context(), ctr, container.StopOptions{Timeout: &timeout})
	case "kill":
		err = hc.cli.ContainerKill(r.Context(), ctr, "KILL")
	case "pause":
		err = hc.cli.ContainerPause(r.Context(), ctr)
	case "unpause":
		err = hc.cli.ContainerUnpause(r.Context(), ctr)
	case "remove":
		err = hc.cli.ContainerRemove(r.Context(), ctr, container.RemoveOptions{Force: true})
	default:
		http.Error(w, "unsupported action", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	common.InfoLog("container: action=%s host=%s ctr=%s", body.Action, hostname, ctr)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleContainerExec runs an interactive shell inside a container over a
// websocket, picking the first shell that actually starts.
func handleContainerExec(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	ctr := chi.URLParam(r, "ctr")

	conn, err := utils.WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		common.DebugLog("exec: websocket upgrade failed for host=%s: %v", hostname, err)
		return
	}
	defer conn.Close()

	hc, err := dockerClientFor(r, hostname)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("error: "+err.Error()))
		return
	}
	defer hc.Close()

	rawCmd := strings.TrimSpace(r.URL.Query().Get("cmd"))
	shell := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("shell")))

	var candidates [][]string
	if rawCmd != "" {
		candidates = [][]string{strings.Fields(rawCmd)}
	} else {
		switch shell {
		case "bash":
			candidates = [][]string{{"/bin/bash"}, {"/usr/bin/bash"}}
		case "ash":
			candidates = [][]string{{"/bin/ash"}}
		case "sh":
			candidates = [][]string{{"/bin/sh"}, {"sh"}}
		default: // auto
			candidates = [][]string{
				{"/bin/bash"}, {"/usr/bin/bash"},
				{"/bin/ash"},
				{"/bin/sh"}, {"sh"},
			}
		}
	}

	type runner struct {
		id  string
		att types.HijackedResponse
	}
	var chosen *runner

	tryCtx, cancelTry := context.WithTimeout(r.Context(), 6*time.Second)
	defer cancelTry()

	for _, cmd := range candidates {
		created, cerr := hc.cli.ContainerExecCreate(tryCtx, ctr, container.ExecOptions{
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
			Tty:          true,
			Cmd:          cmd,
		})
		if cerr != nil || created.ID == "" {
			continue
		}

		att, aerr := hc.cli.ContainerExecAttach(tryCtx, created.ID, container.ExecAttachOptions{Tty: true})
		if aerr != nil {
			continue
		}

		// if it already exited the shell is not available
		time.Sleep(150 * time.Millisecond)
		ins, ierr := hc.cli.ContainerExecInspect(tryCtx, created.ID)
		if ierr != nil {
			att.Close()
			continue
		}
		if ins.Running {
			chosen = &runner{id: created.ID, att: att}
			break
		}
		att.Close()
	}

	if chosen == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("error: no supported shell found (tried bash, ash, sh)"))
		return
	}
	defer chosen.att.Close()
	common.DebugLog("exec: session established host=%s ctr=%s", hostname, ctr)

	// ws -> container stdin, handling resize control messages
	go func(execID string) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				type closer interface{ CloseWrite() error }
				if cw, ok := chosen.att.Conn.(closer); ok {
					_ = cw.CloseWrite()
				} else {
					_ = chosen.att.Conn.Close()
				}
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}

			if len(data) > 10 && data[0] == '{' {
				var msg struct {
					Type string `json:"type"`
					Cols int    `json:"cols"`
					Rows int    `json:"rows"`
				}
				if err := json.Unmarshal(data, &msg); err == nil && strings.EqualFold(msg.Type, "resize") {
					_ = hc.cli.ContainerExecResize(context.Background(), execID, container.ResizeOptions{
						Width:  uint(msg.Cols),
						Height: uint(msg.Rows),
					})
					continue
				}
			}

			_, _ = chosen.att.Conn.Write(data)
		}
	}(chosen.id)

	// container stdout/err -> ws
	buf := make([]byte, 32*1024)
	for {
		n, err := chosen.att.Reader.Read(buf)
		if n > 0 {
			_ = conn.WriteMessage(websocket.BinaryMessage, buf[:n])
		}
		if err != nil {
			return
		}
	}
}
