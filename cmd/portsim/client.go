package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/capatazlib/go-portwatch/port"
	"github.com/capatazlib/go-portwatch/server/api"
)

func list(c *cli.Context) error {
	resp, err := http.Get(fmt.Sprintf("%s/ports", hostname))
	if err := checkResp(err, resp, http.StatusOK, "list ports"); err != nil {
		return err
	}
	defer resp.Body.Close()
	ports := api.Ports{}
	if err := json.NewDecoder(resp.Body).Decode(&ports); err != nil {
		return errorf("failed to decode ports: %s", err)
	}
	for _, p := range ports.Ports {
		fmt.Printf("%s\tconnected=%t\n", p.Token, p.Connected)
	}
	return nil
}

func add(c *cli.Context) error {
	connected := !c.Bool("disconnected")
	data, err := json.Marshal(api.AddPort{Connected: &connected})
	if err != nil {
		return errorf("failed to encode port: %s", err)
	}
	resp, err := http.Post(fmt.Sprintf("%s/ports", hostname), contentType, bytes.NewReader(data))
	if err := checkResp(err, resp, http.StatusCreated, "add port"); err != nil {
		return err
	}
	defer resp.Body.Close()
	p := api.Port{}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return errorf("failed to decode port: %s", err)
	}
	fmt.Println(p.Token)
	return nil
}

func setState(connected bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		data, err := json.Marshal(api.ConnectedState{Connected: connected})
		if err != nil {
			return errorf("failed to encode state: %s", err)
		}
		req, err := http.NewRequest(
			"PUT",
			fmt.Sprintf("%s/ports/%s/connected", hostname, url.PathEscape(c.String("token"))),
			bytes.NewReader(data),
		)
		if err != nil {
			return errorf("failed to build state request: %s", err)
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := http.DefaultClient.Do(req)
		if err := checkResp(err, resp, http.StatusNoContent, "set port state"); err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func watch(c *cli.Context) error {
	kinds, err := port.ParseKinds(c.String("kinds"))
	if err != nil {
		return errorf("invalid kinds: %s", err)
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}

	data, err := json.Marshal(api.NewWatcher{Kinds: names})
	if err != nil {
		return errorf("failed to encode watcher: %s", err)
	}
	resp, err := http.Post(fmt.Sprintf("%s/watchers", hostname), contentType, bytes.NewReader(data))
	if err := checkResp(err, resp, http.StatusCreated, "create watcher"); err != nil {
		return err
	}
	w := api.Watcher{}
	err = json.NewDecoder(resp.Body).Decode(&w)
	resp.Body.Close()
	if err != nil {
		return errorf("failed to decode watcher: %s", err)
	}
	defer removeWatcher(w.ID)

	count := c.Int("count")
	for i := 0; count == 0 || i < count; i++ {
		ev, ok, err := nextEvent(w.ID, c.Duration("timeout"))
		if err != nil {
			return err
		}
		if !ok {
			if count == 0 {
				i--
				continue
			}
			return errorf("no event received within %s", c.Duration("timeout"))
		}
		fmt.Printf("%d\t%s\t%s\tconnected=%t\n", ev.Seq, ev.Kind, ev.Target.Token, ev.Target.Connected)
	}
	return nil
}

// nextEvent long-polls the next event of a watcher; the second return value
// is false when the wait timed out
func nextEvent(id string, timeout time.Duration) (api.Event, bool, error) {
	resp, err := http.Get(fmt.Sprintf(
		"%s/watchers/%s/next?timeout=%s",
		hostname,
		url.PathEscape(id),
		url.QueryEscape(timeout.String()),
	))
	if err == nil && resp.StatusCode == http.StatusRequestTimeout {
		resp.Body.Close()
		return api.Event{}, false, nil
	}
	if err := checkResp(err, resp, http.StatusOK, "wait for event"); err != nil {
		return api.Event{}, false, err
	}
	defer resp.Body.Close()
	ev := api.Event{}
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return api.Event{}, false, errorf("failed to decode event: %s", err)
	}
	return ev, true, nil
}

func removeWatcher(id string) {
	req, err := http.NewRequest("DELETE", fmt.Sprintf("%s/watchers/%s", hostname, url.PathEscape(id)), nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		resp.Body.Close()
	}
}

func checkResp(err error, resp *http.Response, expectedCode int, caller string) error {
	if err != nil {
		return errorf("failed to %s: %s", caller, err)
	}
	if resp.StatusCode != expectedCode {
		defer resp.Body.Close()
		e := api.Error{}
		err := json.NewDecoder(resp.Body).Decode(&e)
		if err != nil {
			e.Error = "unknown error"
		}
		return errorf("failed to %s: %s", caller, e.Error)
	}
	return nil
}
