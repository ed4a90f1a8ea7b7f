package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
	CACert     string
}

type CreateFlags struct {
	API         APIFlags
	URL         string
	Name        string
	Description string
	Group       string
	Tags        string
	Priority    int
}

type CloseFlags struct {
	API    APIFlags
	ID     int64
	Reason string
}

type IDFlags struct {
	API APIFlags
	ID  int64
}

type NavigateFlags struct {
	API APIFlags
	ID  int64
	URL string
}

type ScreenshotFlags struct {
	API    APIFlags
	ID     int64
	Output string
}

type InstancesFlags struct {
	API      APIFlags
	ID       int64
	Groups   bool
	Closed   bool
	Limit    int
	Sessions int
}

type ServeFlags struct {
	ConfigPath string
}
