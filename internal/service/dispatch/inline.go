package dispatch

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"tracked-mail-relay-go/internal/model"
)

var imgSrcPattern = regexp.MustCompile(`(?i)(?:< *img[^>]*src *= *["'])(?P<imgurls>[^"']*)`)

// inliner maps image URLs in HTML bodies onto local files under basePath
type inliner struct {
	baseURL  string
	basePath string
}

func newInliner(baseURL, basePath string) *inliner {
	if basePath == "" {
		basePath = "."
	}
	return &inliner{baseURL: baseURL, basePath: basePath}
}

// rewrite attaches every referenced image that exists locally and points its
// src at cid:<name>. Only matched src values change; anything that does not
// resolve is left alone. Each local file gets one attachment and a cid that
// no other file on the message uses.
func (in *inliner) rewrite(html string) (string, []model.Attachment) {
	var (
		inline []model.Attachment
		out    strings.Builder
		last   int
	)
	byURL := make(map[string]string)  // image URL -> cid, "" when unresolved
	byPath := make(map[string]string) // local path -> cid
	taken := make(map[string]bool)

	for _, loc := range imgSrcPattern.FindAllStringSubmatchIndex(html, -1) {
		start, end := loc[2], loc[3]
		imageURL := html[start:end]
		if imageURL == "" {
			continue
		}

		cid, done := byURL[imageURL]
		if !done {
			cid = in.attach(imageURL, byPath, taken, &inline)
			byURL[imageURL] = cid
		}
		if cid == "" {
			continue
		}

		out.WriteString(html[last:start])
		out.WriteString("cid:" + cid)
		last = end
	}

	if last == 0 {
		return html, inline
	}
	out.WriteString(html[last:])
	return out.String(), inline
}

// attach loads the file behind imageURL and returns its cid, or "" when the
// URL does not map onto a readable regular file.
func (in *inliner) attach(imageURL string, byPath map[string]string, taken map[string]bool, inline *[]model.Attachment) string {
	path, ok := in.localPath(imageURL)
	if !ok {
		return ""
	}
	if cid, ok := byPath[path]; ok {
		return cid
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Warnf("Failed to read inline image %s: %v", path, err)
		return ""
	}

	name := uniqueName(filepath.Base(path), taken)
	taken[name] = true
	byPath[path] = name
	*inline = append(*inline, model.Attachment{
		Filename: name,
		MIMEType: mime.TypeByExtension(filepath.Ext(name)),
		Data:     data,
	})
	return name
}

// uniqueName suffixes name (x.png, x-1.png, x-2.png, ...) until it is free
func uniqueName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if !taken[candidate] {
			return candidate
		}
	}
}

func (in *inliner) localPath(imageURL string) (string, bool) {
	u, err := url.Parse(imageURL)
	if err != nil || u.Path == "" || u.Scheme == "cid" || u.Scheme == "data" {
		return "", false
	}

	rel := u.Path
	if in.baseURL != "" {
		if !strings.HasPrefix(rel, in.baseURL) {
			return "", false
		}
		rel = strings.TrimPrefix(rel, in.baseURL)
	}

	root := filepath.Clean(in.basePath)
	path := filepath.Join(root, filepath.FromSlash(rel))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) && root != "." {
		return "", false
	}
	if root == "." && strings.HasPrefix(path, "..") {
		return "", false
	}
	return path, true
}
