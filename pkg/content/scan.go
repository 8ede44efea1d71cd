package content

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

// playbookProfile extracts the profile from {product}-playbook-{profile}.yml.
func playbookProfile(product, name string) string {
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(product) + `-playbook-(.+)\.yml$`)
	if m := re.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return ""
}

// walkFiles returns every regular file under root in lexical order,
// skipping .git.
func walkFiles(root string) []string {
	var files []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// collectRelease finds ssg-{product}-ds.xml and {product}-playbook-*.yml
// files in an extracted release.
func collectRelease(dir string, products []string) []Artifact {
	files := walkFiles(dir)

	var artifacts []Artifact
	for _, product := range products {
		dsName := "ssg-" + product + "-ds.xml"
		for _, path := range files {
			if filepath.Base(path) == dsName {
				artifacts = append(artifacts, Artifact{Product: product, Kind: KindDatastream, Path: path})
			}
		}
		for _, path := range files {
			name := filepath.Base(path)
			if !strings.HasPrefix(name, product+"-playbook-") {
				continue
			}
			if profile := playbookProfile(product, name); profile != "" {
				artifacts = append(artifacts, Artifact{Product: product, Kind: KindPlaybook, Profile: profile, Path: path})
			}
		}
	}
	return artifacts
}

// scanRepo finds content files in a repository working copy. Built
// datastreams under build/ come first, then any product XCCDF file,
// then playbooks, then product-named files under ansible/.
func scanRepo(dir string, products []string) []Artifact {
	files := walkFiles(dir)
	buildDir := filepath.Join(dir, "build") + string(filepath.Separator)
	ansibleDir := filepath.Join(dir, "ansible") + string(filepath.Separator)

	var artifacts []Artifact
	for _, product := range products {
		seen := make(map[string]bool)
		dsName := "ssg-" + product + "-ds.xml"

		for _, path := range files {
			if strings.HasPrefix(path, buildDir) && filepath.Base(path) == dsName {
				artifacts = append(artifacts, Artifact{Product: product, Kind: KindDatastream, Path: path})
				seen[path] = true
			}
		}
		for _, path := range files {
			lower := strings.ToLower(filepath.Base(path))
			if seen[path] || !strings.HasSuffix(lower, ".xml") || !strings.Contains(lower, product) {
				continue
			}
			if strings.Contains(lower, "xccdf") || strings.Contains(lower, "ssg-"+product+"-ds") {
				artifacts = append(artifacts, Artifact{Product: product, Kind: KindXCCDF, Path: path})
				seen[path] = true
			}
		}

		for _, path := range files {
			name := filepath.Base(path)
			lower := strings.ToLower(name)
			if !strings.HasSuffix(lower, ".yml") || !strings.Contains(lower, product) || !strings.Contains(lower, "playbook") {
				continue
			}
			artifacts = append(artifacts, Artifact{
				Product: product,
				Kind:    KindPlaybook,
				Profile: playbookProfile(product, name),
				Path:    path,
			})
			seen[path] = true
		}
		for _, path := range files {
			lower := strings.ToLower(filepath.Base(path))
			if seen[path] || !strings.HasPrefix(path, ansibleDir) || !strings.HasSuffix(lower, ".yml") || !strings.Contains(lower, product) {
				continue
			}
			artifacts = append(artifacts, Artifact{Product: product, Kind: KindAnsible, Path: path})
			seen[path] = true
		}
	}
	return artifacts
}
