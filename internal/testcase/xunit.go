package testcase

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/result"
	"github.com/signalnine/shardrun/internal/testconfig"
)

// Xunit is a libc++ result read from LIT's xunit report. It never runs on a
// device; its outcome was decided when LIT ran.
type Xunit struct {
	base
	failure *string
}

func (x *Xunit) CheckUnsupported(*device.Device) (string, bool, error) {
	return "", false, nil
}

// CheckBroken consults build-time declarations, since LIT results come from
// the build. The device may be nil.
func (x *Xunit) CheckBroken(*device.Device) (*result.Broken, error) {
	tc, err := x.testConfig()
	if err != nil {
		return nil, err
	}
	name := path.Base(x.name)
	name = strings.TrimSuffix(name, path.Ext(name))
	return brokenOrNil(tc.BuildBroken(x.config.ABI, x.config.API, name)), nil
}

func (x *Xunit) Run(context.Context, *device.Device) result.Raw {
	if x.failure == nil {
		return result.Raw{}
	}
	return result.Raw{Status: 1, Output: *x.failure}
}

// Result reports the recorded outcome with broken declarations applied.
func (x *Xunit) Result() (result.Result, error) {
	broken, err := x.CheckBroken(nil)
	if err != nil {
		return result.Result{}, err
	}
	return result.Reconcile(result.FromRaw(x, x.Run(context.Background(), nil), ""), broken), nil
}

type xunitCase struct {
	Classname string         `xml:"classname,attr"`
	Name      string         `xml:"name,attr"`
	Failures  []xunitFailure `xml:"failure"`
}

type xunitFailure struct {
	Text string `xml:",chardata"`
}

// ParseXunit reads every <testcase> element in r, at any depth. LIT names a
// test by its directory under the libc++ test root, prefixed with "libc++."
// and with every '.' in the path written as '_'. Each name is resolved back
// to exactly one file under <srcDir>/libc++/test.
func ParseXunit(r io.Reader, cfg buildcfg.Config, srcDir string, configs *testconfig.Cache) ([]*Xunit, error) {
	testRoot := filepath.Join(srcDir, "libc++", "test")
	var sources []string
	dec := xml.NewDecoder(r)
	var out []*Xunit
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing xunit: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "testcase" {
			continue
		}
		var tc xunitCase
		if err := dec.DecodeElement(&tc, &start); err != nil {
			return nil, fmt.Errorf("parsing xunit: %w", err)
		}

		if sources == nil {
			if sources, err = listSources(testRoot); err != nil {
				return nil, err
			}
		}
		rel, err := resolveLibcxxTest(sources, tc.Classname+"/"+tc.Name)
		if err != nil {
			return nil, err
		}
		name := "libc++." + rel
		testDir := path.Dir(rel)
		if testDir == "." {
			testDir = ""
		}

		x := &Xunit{base: base{
			name:        name,
			config:      cfg,
			buildSystem: LibcxxBuildSystem,
			configDir:   filepath.Join(testRoot, filepath.FromSlash(testDir)),
			configs:     configs,
		}}
		switch len(tc.Failures) {
		case 0:
		case 1:
			text := tc.Failures[0].Text
			x.failure = &text
		default:
			return nil, fmt.Errorf("could not parse xunit output: test case does not have a unique failure node: %s", name)
		}
		out = append(out, x)
	}
	return out, nil
}

// listSources returns the slash separated paths of every file under root.
func listSources(root string) ([]string, error) {
	sources := []string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		sources = append(sources, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning libc++ test sources: %w", err)
	}
	return sources, nil
}

// resolveLibcxxTest maps a mangled xunit name to the one source path it
// came from, relative to the libc++ test root.
func resolveLibcxxTest(sources []string, mangled string) (string, error) {
	name := mangled
	// Tests in the root of the test tree are reported under "libc++.libc++/".
	if rest, ok := strings.CutPrefix(name, "libc++.libc++/"); ok {
		name = rest
	} else if rest, ok := strings.CutPrefix(name, "libc++."); ok {
		name = rest
	}
	g, err := glob.Compile(strings.ReplaceAll(glob.QuoteMeta(name), "_", "?"), '/')
	if err != nil {
		return "", fmt.Errorf("libc++ test %s: %w", mangled, err)
	}
	var matches []string
	for _, s := range sources {
		if g.Match(s) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("found no matches for test %s", mangled)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("found multiple matches for test %s: %s", mangled, strings.Join(matches, ", "))
	}
}

func ParseXunitFile(file string, cfg buildcfg.Config, srcDir string, configs *testconfig.Cache) ([]*Xunit, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("opening xunit report: %w", err)
	}
	defer f.Close()
	return ParseXunit(f, cfg, srcDir, configs)
}
