package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/guilherme-santos/smartcal"
)

type Strings []string

func (i *Strings) String() string {
	return strings.Join(*i, ", ")
}

func (i *Strings) Set(value string) error {
	*i = append(*i, value)
	return nil
}

// Preferences collects repeated -pref key=value flags.
func (i Strings) Preferences() (map[string]string, error) {
	if len(i) == 0 {
		return nil, nil
	}
	prefs := make(map[string]string, len(i))
	for _, kv := range i {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid preference %q, expected key=value", kv)
		}
		prefs[k] = v
	}
	return prefs, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprintf(w, "Usage of %s %s:\n", os.Args[0], fs.Name())
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Options:\n")
		fs.PrintDefaults()
	}
	return fs
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError shows the guidance and retry hint that come with an error.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)

	var e *smartcal.Error
	if !errors.As(err, &e) {
		return
	}
	if len(e.Guidance) > 0 {
		fmt.Fprintln(w)
		for _, g := range e.Guidance {
			fmt.Fprintln(w, "  -", g)
		}
	}
	if d := smartcal.RetryAfterOf(err); d > 0 {
		fmt.Fprintf(w, "Retry after %s.\n", d)
	}
}
