// Package manifest parses a job's tagged-tree definition (spec §3) into
// typed fields the rest of the supervisor can work with directly, while
// keeping the original tree around for get-job/check-in replies.
package manifest

import (
	"fmt"

	"github.com/docker/go-units"

	"github.com/nullhaven/overseerd/internal/ipcerr"
	"github.com/nullhaven/overseerd/internal/value"
)

// SocketSpec describes one descriptor to create for a named socket group.
type SocketSpec struct {
	Type     string // "stream" or "dgram"
	Pathname string // Unix-domain path; empty for a TCP/IP socket
	NodeName string // host to bind/connect, for TCP/IP sockets
	Service  string // port or service name, for TCP/IP sockets
	Passive  bool   // true = listen; false = connect
}

// CalendarSpec is the five-field cron-style specification consumed by
// the calendar emulator (spec §4.7). A value of -1 means wildcard.
type CalendarSpec struct {
	Minute     int
	Hour       int
	Day        int
	Weekday    int
	Month      int
}

// Manifest is the parsed, typed form of a job's tagged-tree definition.
type Manifest struct {
	Raw value.Value

	Label          string
	Program        string
	ProgramArgs    []string
	OnDemand       bool
	RunAtLoad      bool
	ServiceIPC     bool
	Inetd          bool
	Debug          bool

	EnvironmentVariables     map[string]string
	UserEnvironmentVariables map[string]string

	WorkingDirectory string
	RootDirectory    string
	UserName         string
	GroupName        string
	InitGroups       bool
	SessionCreate    bool
	LowPriorityIO    bool
	Umask            int
	HasUmask         bool
	Nice             int
	HasNice          bool

	StandardOutPath string
	StandardErrPath string

	SoftResourceLimits map[string]int64
	HardResourceLimits map[string]int64

	Sockets          map[string][]SocketSpec
	WatchPaths       []string
	QueueDirectories []string

	StartInterval         int
	StartCalendarInterval *CalendarSpec

	TimeoutSeconds int
}

// Parse validates and converts a raw tagged-tree job definition into a
// Manifest. It returns *ipcerr.Error(InvalidArgument) when the manifest
// is missing its label or both of program / program-arguments, matching
// the submit-job verb's contract (spec §4.4).
func Parse(v value.Value) (*Manifest, error) {
	m := &Manifest{
		Raw:                      v.DeepCopy(),
		EnvironmentVariables:     map[string]string{},
		UserEnvironmentVariables: map[string]string{},
		SoftResourceLimits:       map[string]int64{},
		HardResourceLimits:       map[string]int64{},
		Sockets:                  map[string][]SocketSpec{},
	}

	fields, ok := v.AsMap()
	if !ok {
		return nil, ipcerr.New(ipcerr.InvalidArgument, "job definition must be a mapping")
	}

	m.Label, _ = v.StringField("label")
	if m.Label == "" {
		return nil, ipcerr.New(ipcerr.InvalidArgument, "job definition missing required key \"label\"")
	}

	m.Program, _ = v.StringField("program")

	if args, ok := fields["program-arguments"]; ok {
		arr, ok := args.AsArray()
		if !ok {
			return nil, ipcerr.New(ipcerr.InvalidArgument, "program-arguments must be an array")
		}
		for _, a := range arr {
			s, ok := a.AsString()
			if !ok {
				return nil, ipcerr.New(ipcerr.InvalidArgument, "program-arguments elements must be strings")
			}
			m.ProgramArgs = append(m.ProgramArgs, s)
		}
	}

	if m.Program == "" && len(m.ProgramArgs) == 0 {
		return nil, ipcerr.New(ipcerr.InvalidArgument, "job definition missing both \"program\" and \"program-arguments\"")
	}
	if m.Program == "" {
		m.Program = m.ProgramArgs[0]
	}

	m.OnDemand, _ = v.BoolField("on-demand")
	if _, present := fields["on-demand"]; !present {
		m.OnDemand = true // matches the donor spec's default of keep-alive=false/on-demand=true
	}
	m.RunAtLoad, _ = v.BoolField("run-at-load")
	m.ServiceIPC, _ = v.BoolField("service-ipc")
	m.Inetd, _ = v.BoolField("inetd-compatibility")
	m.Debug, _ = v.BoolField("debug")

	if env, ok := fields["environment-variables"]; ok {
		if err := parseStringMap(env, m.EnvironmentVariables); err != nil {
			return nil, err
		}
	}
	if env, ok := fields["user-environment-variables"]; ok {
		if err := parseStringMap(env, m.UserEnvironmentVariables); err != nil {
			return nil, err
		}
	}

	m.WorkingDirectory, _ = v.StringField("working-directory")
	m.RootDirectory, _ = v.StringField("root-directory")
	m.UserName, _ = v.StringField("user-name")
	m.GroupName, _ = v.StringField("group-name")
	m.InitGroups, _ = v.BoolField("init-groups")
	m.SessionCreate, _ = v.BoolField("session-create")
	m.LowPriorityIO, _ = v.BoolField("low-priority-io")

	if u, present := fields["umask"]; present {
		n, ok := u.AsInt()
		if !ok {
			return nil, ipcerr.New(ipcerr.InvalidArgument, "umask must be an integer")
		}
		m.Umask = int(n)
		m.HasUmask = true
	}
	if n, present := fields["nice"]; present {
		val, ok := n.AsInt()
		if !ok {
			return nil, ipcerr.New(ipcerr.InvalidArgument, "nice must be an integer")
		}
		m.Nice = int(val)
		m.HasNice = true
	}

	m.StandardOutPath, _ = v.StringField("stdout-path")
	m.StandardErrPath, _ = v.StringField("stderr-path")

	if rl, ok := fields["soft-resource-limits"]; ok {
		if err := parseRLimitMap(rl, m.SoftResourceLimits); err != nil {
			return nil, err
		}
	}
	if rl, ok := fields["hard-resource-limits"]; ok {
		if err := parseRLimitMap(rl, m.HardResourceLimits); err != nil {
			return nil, err
		}
	}

	if sg, ok := fields["sockets"]; ok {
		groups, ok := sg.AsMap()
		if !ok {
			return nil, ipcerr.New(ipcerr.InvalidArgument, "sockets must be a mapping of name to socket array")
		}
		for name, specsVal := range groups {
			arr, ok := specsVal.AsArray()
			if !ok {
				return nil, ipcerr.New(ipcerr.InvalidArgument, fmt.Sprintf("sockets.%s must be an array", name))
			}
			var specs []SocketSpec
			for _, sv := range arr {
				spec, err := parseSocketSpec(sv)
				if err != nil {
					return nil, err
				}
				specs = append(specs, spec)
			}
			m.Sockets[name] = specs
		}
	}

	if wp, ok := fields["watch-paths"]; ok {
		paths, err := parseStringArray(wp)
		if err != nil {
			return nil, err
		}
		m.WatchPaths = paths
	}
	if qd, ok := fields["queue-directories"]; ok {
		dirs, err := parseStringArray(qd)
		if err != nil {
			return nil, err
		}
		m.QueueDirectories = dirs
	}

	if si, present := fields["start-interval"]; present {
		n, ok := si.AsInt()
		if !ok {
			return nil, ipcerr.New(ipcerr.InvalidArgument, "start-interval must be an integer number of seconds")
		}
		m.StartInterval = int(n)
	}

	if sc, ok := fields["start-calendar-interval"]; ok {
		spec, err := parseCalendarSpec(sc)
		if err != nil {
			return nil, err
		}
		m.StartCalendarInterval = spec
	}

	if to, present := fields["timeout"]; present {
		n, ok := to.AsInt()
		if !ok {
			return nil, ipcerr.New(ipcerr.InvalidArgument, "timeout must be an integer number of seconds")
		}
		m.TimeoutSeconds = int(n)
	}

	return m, nil
}

func parseStringMap(v value.Value, into map[string]string) error {
	m, ok := v.AsMap()
	if !ok {
		return ipcerr.New(ipcerr.InvalidArgument, "expected a string-to-string mapping")
	}
	for k, val := range m {
		s, ok := val.AsString()
		if !ok {
			return ipcerr.New(ipcerr.InvalidArgument, fmt.Sprintf("value for %q must be a string", k))
		}
		into[k] = s
	}
	return nil
}

func parseStringArray(v value.Value) ([]string, error) {
	arr, ok := v.AsArray()
	if !ok {
		return nil, ipcerr.New(ipcerr.InvalidArgument, "expected an array of strings")
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.AsString()
		if !ok {
			return nil, ipcerr.New(ipcerr.InvalidArgument, "array elements must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// parseRLimitMap accepts either an integer count (e.g. "nofile": 256) or
// a human-readable size string (e.g. "data": "256MiB") for each rlimit
// key, matching how manifests commonly express byte-oriented limits.
func parseRLimitMap(v value.Value, into map[string]int64) error {
	m, ok := v.AsMap()
	if !ok {
		return ipcerr.New(ipcerr.InvalidArgument, "resource limits must be a mapping")
	}
	for k, val := range m {
		switch val.Kind {
		case value.KindInt64:
			into[k] = val.Int
		case value.KindString:
			n, err := units.RAMInBytes(val.Str)
			if err != nil {
				return ipcerr.New(ipcerr.InvalidArgument, fmt.Sprintf("resource limit %q: %v", k, err))
			}
			into[k] = n
		default:
			return ipcerr.New(ipcerr.InvalidArgument, fmt.Sprintf("resource limit %q must be an integer or size string", k))
		}
	}
	return nil
}

func parseSocketSpec(v value.Value) (SocketSpec, error) {
	var s SocketSpec
	fields, ok := v.AsMap()
	if !ok {
		return s, ipcerr.New(ipcerr.InvalidArgument, "socket spec must be a mapping")
	}
	s.Type, _ = v.StringField("type")
	if s.Type == "" {
		s.Type = "stream"
	}
	s.Pathname, _ = v.StringField("pathname")
	s.NodeName, _ = v.StringField("node-name")
	s.Service, _ = v.StringField("service-name")
	if p, present := fields["passive"]; present {
		b, ok := p.AsBool()
		if !ok {
			return s, ipcerr.New(ipcerr.InvalidArgument, "socket passive flag must be a bool")
		}
		s.Passive = b
	} else {
		s.Passive = true
	}
	return s, nil
}

func parseCalendarSpec(v value.Value) (*CalendarSpec, error) {
	spec := &CalendarSpec{Minute: -1, Hour: -1, Day: -1, Weekday: -1, Month: -1}
	fields, ok := v.AsMap()
	if !ok {
		return nil, ipcerr.New(ipcerr.InvalidArgument, "start-calendar-interval must be a mapping")
	}
	assign := func(key string, into *int) error {
		if f, present := fields[key]; present {
			n, ok := f.AsInt()
			if !ok {
				return ipcerr.New(ipcerr.InvalidArgument, fmt.Sprintf("start-calendar-interval.%s must be an integer", key))
			}
			*into = int(n)
		}
		return nil
	}
	if err := assign("minute", &spec.Minute); err != nil {
		return nil, err
	}
	if err := assign("hour", &spec.Hour); err != nil {
		return nil, err
	}
	if err := assign("day", &spec.Day); err != nil {
		return nil, err
	}
	if err := assign("weekday", &spec.Weekday); err != nil {
		return nil, err
	}
	if err := assign("month", &spec.Month); err != nil {
		return nil, err
	}
	return spec, nil
}
