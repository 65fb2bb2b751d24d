// Package runargs parses the extra runtime arguments declared for a
// deployment into a structured form the Docker shell can execute.
//
// Deployment declarations carry docker-run style flags ("-p", "-e",
// "-v", ...). Parsing is pure (no I/O) and happens once at startup, so
// a malformed declaration fails the daemon before it serves requests.
package runargs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// =============================================================================
// Parsed Argument Types
// =============================================================================

// RunArgs is the structured form of a deployment's extra arguments.
type RunArgs struct {
	Env      map[string]string
	Labels   map[string]string
	Ports    []PortSpec
	Volumes  []VolumeSpec
	Networks []string

	RestartPolicy string // "no", "always", "on-failure", "unless-stopped"
	MaxRetries    int    // for "on-failure"

	Memory int64   // bytes, 0 = unlimited
	CPUs   float64 // cores, 0 = unlimited

	User       string
	WorkingDir string
}

// PortSpec is a parsed -p/--publish binding.
type PortSpec struct {
	HostIP        string
	HostPort      int // 0 = engine-assigned
	ContainerPort int
	Protocol      string // "tcp" or "udp"
}

// VolumeSpec is a parsed -v/--volume mount.
type VolumeSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// =============================================================================
// Parser
// =============================================================================

// Parse converts docker-run style extra arguments into RunArgs.
// Unknown flags and positional arguments are rejected so that a bad
// declaration is caught at startup rather than at container creation.
func Parse(args []string) (RunArgs, error) {
	out := RunArgs{
		Env:    map[string]string{},
		Labels: map[string]string{},
	}

	i := 0
	next := func(flag string) (string, error) {
		i++
		if i >= len(args) {
			return "", fmt.Errorf("flag %s expects a value", flag)
		}
		return args[i], nil
	}

	for ; i < len(args); i++ {
		arg := args[i]

		flag, value := arg, ""
		hasValue := false
		if strings.HasPrefix(arg, "--") {
			if eq := strings.Index(arg, "="); eq >= 0 {
				flag, value = arg[:eq], arg[eq+1:]
				hasValue = true
			}
		}

		get := func() (string, error) {
			if hasValue {
				return value, nil
			}
			return next(flag)
		}

		switch flag {
		case "-p", "--publish":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			spec, err := parsePort(v)
			if err != nil {
				return RunArgs{}, err
			}
			out.Ports = append(out.Ports, spec)

		case "-e", "--env":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			k, val, ok := strings.Cut(v, "=")
			if !ok || k == "" {
				return RunArgs{}, fmt.Errorf("invalid env %q, expected KEY=VALUE", v)
			}
			out.Env[k] = val

		case "-l", "--label":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			k, val, _ := strings.Cut(v, "=")
			if k == "" {
				return RunArgs{}, fmt.Errorf("invalid label %q", v)
			}
			out.Labels[k] = val

		case "-v", "--volume":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			spec, err := parseVolume(v)
			if err != nil {
				return RunArgs{}, err
			}
			out.Volumes = append(out.Volumes, spec)

		case "--network":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			out.Networks = append(out.Networks, v)

		case "--restart":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			policy, retries, err := parseRestart(v)
			if err != nil {
				return RunArgs{}, err
			}
			out.RestartPolicy = policy
			out.MaxRetries = retries

		case "-m", "--memory":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			bytes, err := units.RAMInBytes(v)
			if err != nil {
				return RunArgs{}, fmt.Errorf("invalid memory limit %q: %w", v, err)
			}
			out.Memory = bytes

		case "--cpus":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			cpus, err := strconv.ParseFloat(v, 64)
			if err != nil || cpus < 0 {
				return RunArgs{}, fmt.Errorf("invalid cpu limit %q", v)
			}
			out.CPUs = cpus

		case "-u", "--user":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			out.User = v

		case "-w", "--workdir":
			v, err := get()
			if err != nil {
				return RunArgs{}, err
			}
			out.WorkingDir = v

		default:
			if strings.HasPrefix(flag, "-") {
				return RunArgs{}, fmt.Errorf("unsupported flag %q", flag)
			}
			return RunArgs{}, fmt.Errorf("unexpected argument %q", arg)
		}
	}

	return out, nil
}

// parsePort parses [ip:]hostPort:containerPort[/proto] or a bare
// container port.
func parsePort(v string) (PortSpec, error) {
	spec := PortSpec{Protocol: "tcp"}

	if port, proto, ok := strings.Cut(v, "/"); ok {
		if proto != "tcp" && proto != "udp" {
			return PortSpec{}, fmt.Errorf("invalid port protocol %q", proto)
		}
		spec.Protocol = proto
		v = port
	}

	parts := strings.Split(v, ":")
	switch len(parts) {
	case 1:
		cp, err := parsePortNum(parts[0])
		if err != nil {
			return PortSpec{}, err
		}
		spec.ContainerPort = cp
	case 2:
		hp, err := parsePortNum(parts[0])
		if err != nil {
			return PortSpec{}, err
		}
		cp, err := parsePortNum(parts[1])
		if err != nil {
			return PortSpec{}, err
		}
		spec.HostPort, spec.ContainerPort = hp, cp
	case 3:
		spec.HostIP = parts[0]
		hp, err := parsePortNum(parts[1])
		if err != nil {
			return PortSpec{}, err
		}
		cp, err := parsePortNum(parts[2])
		if err != nil {
			return PortSpec{}, err
		}
		spec.HostPort, spec.ContainerPort = hp, cp
	default:
		return PortSpec{}, fmt.Errorf("invalid port binding %q", v)
	}

	return spec, nil
}

func parsePortNum(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return n, nil
}

// parseVolume parses source:target[:ro|rw].
func parseVolume(v string) (VolumeSpec, error) {
	parts := strings.Split(v, ":")
	switch len(parts) {
	case 2:
		return VolumeSpec{Source: parts[0], Target: parts[1]}, nil
	case 3:
		switch parts[2] {
		case "ro":
			return VolumeSpec{Source: parts[0], Target: parts[1], ReadOnly: true}, nil
		case "rw":
			return VolumeSpec{Source: parts[0], Target: parts[1]}, nil
		}
		return VolumeSpec{}, fmt.Errorf("invalid volume mode %q", parts[2])
	default:
		return VolumeSpec{}, fmt.Errorf("invalid volume %q, expected source:target[:ro]", v)
	}
}

// parseRestart parses policy[:maxRetries].
func parseRestart(v string) (string, int, error) {
	policy, retries, ok := strings.Cut(v, ":")
	switch policy {
	case "no", "always", "unless-stopped":
		if ok {
			return "", 0, fmt.Errorf("restart policy %q does not take a retry count", policy)
		}
		return policy, 0, nil
	case "on-failure":
		if !ok {
			return policy, 0, nil
		}
		n, err := strconv.Atoi(retries)
		if err != nil || n < 0 {
			return "", 0, fmt.Errorf("invalid restart retry count %q", retries)
		}
		return policy, n, nil
	default:
		return "", 0, fmt.Errorf("invalid restart policy %q", policy)
	}
}
