package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// Printed event names, shared with the journal's kinds.
const (
	printSnapshot = "snapshot"
	printUpdate   = "update"
	printError    = "error"
)

// printer is the watch command's Delegate: it writes one block of text (or
// one JSON object per line with --json) for every callback.
type printer struct {
	w           io.Writer
	json        bool
	lang        language.Tag
	containerID string
	session     func() string
	logger      *slog.Logger
	nowFunc     func() time.Time
}

// printedEvent is the JSON schema for `watch --json` output lines.
type printedEvent struct {
	Event       string              `json:"event"`
	Time        time.Time           `json:"time"`
	SessionID   string              `json:"session_id"`
	ContainerID string              `json:"container_id"`
	Items       []changesource.Item `json:"items,omitempty"`
	Added       []changesource.Item `json:"added,omitempty"`
	Modified    []changesource.Item `json:"modified,omitempty"`
	Removed     []changesource.Item `json:"removed,omitempty"`
	Error       *printedError       `json:"error,omitempty"`
}

type printedError struct {
	Kind        string `json:"kind"`
	Code        int    `json:"code,omitempty"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
}

func newPrinter(w io.Writer, asJSON bool, lang language.Tag, containerID string,
	session func() string, logger *slog.Logger,
) *printer {
	return &printer{
		w:           w,
		json:        asJSON,
		lang:        lang,
		containerID: containerID,
		session:     session,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

func (p *printer) OnInitialSnapshot(items []changesource.Item) {
	if p.json {
		p.emit(printedEvent{Event: printSnapshot, Items: items})
		return
	}

	p.printf("[%s] initial snapshot: %d item(s)\n", p.stamp(), len(items))

	for i := range items {
		p.printItem(" ", &items[i])
	}
}

func (p *printer) OnUpdate(items []changesource.Item, delta changesource.Delta) {
	if p.json {
		p.emit(printedEvent{
			Event:    printUpdate,
			Items:    items,
			Added:    delta.Added,
			Modified: delta.Modified,
			Removed:  delta.Removed,
		})

		return
	}

	p.printf("[%s] update: %d item(s) (+%d ~%d -%d)\n", p.stamp(), len(items),
		len(delta.Added), len(delta.Modified), len(delta.Removed))

	for i := range delta.Added {
		p.printItem("+", &delta.Added[i])
	}

	for i := range delta.Modified {
		p.printItem("~", &delta.Modified[i])
	}

	for i := range delta.Removed {
		p.printItem("-", &delta.Removed[i])
	}
}

func (p *printer) OnError(se *syncerr.Error) {
	if p.json {
		pe := &printedError{
			Kind:        se.Kind.String(),
			Code:        int(se.Code),
			Description: syncerr.Description(se.Kind),
			Message:     syncerr.Localize(se.Kind, p.lang),
		}

		if se.Err != nil {
			pe.Detail = se.Err.Error()
		}

		p.emit(printedEvent{Event: printError, Error: pe})

		return
	}

	code := ""
	if se.Code != 0 {
		code = fmt.Sprintf(" (code %d)", se.Code)
	}

	p.printf("[%s] error: %s%s: %s\n", p.stamp(), se.Kind, code, syncerr.Localize(se.Kind, p.lang))
}

func (p *printer) printItem(mark string, it *changesource.Item) {
	suffix := ""
	if it.Status == changesource.StatusNotDownloaded {
		suffix = ", " + statusLabel(it.Status)
	}

	p.printf("  %s %s (%s%s)\n", mark, it.Path, formatSize(it.Size), suffix)
}

func (p *printer) stamp() string {
	return p.nowFunc().Format(time.TimeOnly)
}

func (p *printer) emit(ev printedEvent) {
	ev.Time = p.nowFunc().UTC()
	ev.SessionID = p.session()
	ev.ContainerID = p.containerID

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encoding event failed", slog.String("error", err.Error()))
		return
	}

	p.printf("%s\n", data)
}

func (p *printer) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(p.w, format, args...); err != nil {
		p.logger.Warn("writing output failed", slog.String("error", err.Error()))
	}
}
