package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL reads <dir>/.cxrefd.kdl, returning (nil, nil) when the file does
// not exist — the caller treats that as "fall through to the next config
// source", matching the teacher's LoadKDL contract.
func LoadKDL(dir string) (*Config, error) {
	path := filepath.Join(dir, ".cxrefd.kdl")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Project.Root == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		cfg.Project.Root = abs
	} else if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Clean(filepath.Join(dir, cfg.Project.Root))
	}
	return cfg, nil
}

func parseKDL(content string) (*Config, error) {
	cfg := Default()

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "root":
					if s, ok := firstStringArg(cn); ok {
						cfg.Project.Root = s
					}
				case "name":
					if s, ok := firstStringArg(cn); ok {
						cfg.Project.Name = s
					}
				}
			}
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "socketPath":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.SocketPath = s
					}
				case "dataDir":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.DataDir = s
					}
				case "threadPoolSize":
					if i, ok := firstIntArg(cn); ok {
						cfg.Index.ThreadPoolSize = i
					}
				case "completionCacheSize":
					if i, ok := firstIntArg(cn); ok {
						cfg.Index.CompletionCacheSize = i
					}
				case "defaultArguments":
					cfg.Index.DefaultArguments = collectStringArgs(cn)
				case "excludeFilters":
					cfg.Index.ExcludeFilters = collectStringArgs(cn)
				}
			}
		case "options":
			for _, cn := range n.Children {
				b, ok := firstBoolArg(cn)
				if !ok {
					b = true // bare "wall" with no argument means enabled
				}
				switch nodeName(cn) {
				case "wall":
					cfg.Options.Wall = b
				case "ignorePrintfFixits":
					cfg.Options.IgnorePrintfFixits = b
				case "clearProjects":
					cfg.Options.ClearProjects = b
				case "noStartupCurrentProject":
					cfg.Options.NoStartupCurrentProject = b
				case "allowMultipleBuildsForSameCompiler":
					cfg.Options.AllowMultipleBuildsForSameCompiler = b
				case "noBuiltinIncludes":
					cfg.Options.NoBuiltinIncludes = b
				case "useDashB":
					cfg.Options.UseDashB = b
				}
			}
		case "logging":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "logDir":
					if s, ok := firstStringArg(cn); ok {
						cfg.Logging.LogDir = s
					}
				case "minLevel":
					if s, ok := firstStringArg(cn); ok {
						cfg.Logging.MinLevel = s
					}
				}
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			name := nodeName(child)
			if name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
