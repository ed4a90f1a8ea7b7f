package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/loykin/sessionkeeper/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

// command runs client-side subcommands against a daemon.
type command struct {
	out io.Writer
}

func (c command) client(f APIFlags) (*client.Client, error) {
	apiURL := f.APIUrl
	if apiURL == "" {
		apiURL = defaultAPIUrl
	}
	cfg := client.Config{BaseURL: apiURL, Timeout: f.APITimeout, Insecure: f.Insecure}
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert}
	}
	cl := client.New(cfg)
	if !cl.IsReachable(context.Background()) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'sessionkeeper serve'", apiURL)
	}
	return cl, nil
}

func (c command) Create(f CreateFlags) error {
	if f.URL == "" {
		return fmt.Errorf("--url is required")
	}
	cl, err := c.client(f.API)
	if err != nil {
		return err
	}
	id, err := cl.Create(context.Background(), client.CreateRequest{
		URL:         f.URL,
		Name:        f.Name,
		Description: f.Description,
		GroupName:   f.Group,
		Tags:        f.Tags,
		Priority:    f.Priority,
	})
	if err != nil {
		return err
	}
	printJSON(c.out, map[string]any{"instance_id": id, "url": f.URL})
	return nil
}

func (c command) Close(f CloseFlags) error {
	cl, err := c.client(f.API)
	if err != nil {
		return err
	}
	res, err := cl.Close(context.Background(), f.ID, f.Reason)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) Restart(f IDFlags) error {
	cl, err := c.client(f.API)
	if err != nil {
		return err
	}
	res, err := cl.Restart(context.Background(), f.ID)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) List(f APIFlags) error {
	cl, err := c.client(f)
	if err != nil {
		return err
	}
	running, err := cl.Running(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, running)
	return nil
}

func (c command) Status(f APIFlags) error {
	cl, err := c.client(f)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	rot, err := cl.Rotation(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, map[string]any{"status": st, "rotation": rot})
	return nil
}

// Instances prints one instance (with --id), its session history (with
// --sessions), the group rollup (with --groups) or every instance.
func (c command) Instances(f InstancesFlags) error {
	cl, err := c.client(f.API)
	if err != nil {
		return err
	}
	ctx := context.Background()
	var v any
	switch {
	case f.Groups:
		v, err = cl.Groups(ctx)
	case f.Closed:
		v, err = cl.ClosedInstances(ctx, f.Limit)
	case f.ID > 0 && f.Sessions > 0:
		v, err = cl.Sessions(ctx, f.ID, f.Sessions)
	case f.ID > 0:
		v, err = cl.Instance(ctx, f.ID)
	default:
		v, err = cl.Instances(ctx)
	}
	if err != nil {
		return err
	}
	printJSON(c.out, v)
	return nil
}

func (c command) Stats(f APIFlags) error {
	cl, err := c.client(f)
	if err != nil {
		return err
	}
	st, err := cl.Statistics(context.Background())
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c command) Navigate(f NavigateFlags) error {
	if f.URL == "" {
		return fmt.Errorf("--url is required")
	}
	cl, err := c.client(f.API)
	if err != nil {
		return err
	}
	if err := cl.Navigate(context.Background(), f.ID, f.URL); err != nil {
		return err
	}
	printJSON(c.out, map[string]any{"instance_id": f.ID, "url": f.URL})
	return nil
}

func (c command) Refresh(f IDFlags) error {
	cl, err := c.client(f.API)
	if err != nil {
		return err
	}
	if err := cl.Refresh(context.Background(), f.ID); err != nil {
		return err
	}
	printJSON(c.out, map[string]any{"instance_id": f.ID, "refreshed": true})
	return nil
}

func (c command) Screenshot(f ScreenshotFlags) error {
	cl, err := c.client(f.API)
	if err != nil {
		return err
	}
	png, err := cl.Screenshot(context.Background(), f.ID)
	if err != nil {
		return err
	}
	out := f.Output
	if out == "" {
		out = "instance_" + strconv.FormatInt(f.ID, 10) + ".png"
	}
	if err := os.WriteFile(out, png, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	printJSON(c.out, map[string]any{"instance_id": f.ID, "file": out, "bytes": len(png)})
	return nil
}
