package static

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file LoadDir reads from a replay directory.
const ManifestName = "pages.yaml"

// Manifest maps captured pages and responses to files of a replay directory.
//
//	pages:
//	  - url: "https://www.xiaohongshu.com/search_result?keyword=*"
//	    file: search.html
//	    requests: ["https://edith.xiaohongshu.com/api/sns/web/v2/user/me"]
//	responses:
//	  - url: "https://edith.xiaohongshu.com/api/sns/web/v2/user/me"
//	    file: me.json
type Manifest struct {
	Pages []struct {
		URL      string   `yaml:"url"`
		File     string   `yaml:"file"`
		Requests []string `yaml:"requests"`
	} `yaml:"pages"`
	Responses []struct {
		URL  string `yaml:"url"`
		File string `yaml:"file"`
		Body string `yaml:"body"`
	} `yaml:"responses"`
}

// LoadDir builds a driver from dir/pages.yaml.
func LoadDir(dir string) (*Driver, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("static: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("static: decode manifest: %w", err)
	}

	d := New()
	for _, p := range m.Pages {
		html, err := os.ReadFile(filepath.Join(dir, p.File))
		if err != nil {
			return nil, fmt.Errorf("static: read page %s: %w", p.File, err)
		}
		if err := d.AddPage(p.URL, string(html), p.Requests...); err != nil {
			return nil, err
		}
	}
	for _, r := range m.Responses {
		body := r.Body
		if r.File != "" {
			b, err := os.ReadFile(filepath.Join(dir, r.File))
			if err != nil {
				return nil, fmt.Errorf("static: read response %s: %w", r.File, err)
			}
			body = string(b)
		}
		d.AddResponse(r.URL, body)
	}
	return d, nil
}
