package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/chatdrop/acquire"
	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/kit"
	"github.com/hazyhaar/chatdrop/knowledge"
	"github.com/hazyhaar/chatdrop/observability"
	"github.com/hazyhaar/chatdrop/settings"
)

// ErrYouTubeUpload rejects uploads of video pages.
var ErrYouTubeUpload = errors.New("YouTube videos cannot be uploaded to knowledge collections. Please use a regular tab or document.")

// UploadResult describes a finished knowledge upload.
type UploadResult struct {
	CollectionID string `json:"collection_id"`
	FileID       string `json:"file_id"`
	FileName     string `json:"file_name"`
	Bytes        int    `json:"bytes"`
}

// client builds a knowledge client from the active endpoint and the API
// settings, or returns the ConfigurationError that prevents it.
func (p *Panel) client(ctx context.Context) (*knowledge.Client, error) {
	active, err := endpoint.Current(ctx, p.store)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, errNoActiveURL
	}
	m, err := p.store.Get(ctx, settings.Synced, settings.KeyEnableAPIAccess, settings.KeyAPIKey)
	if err != nil {
		return nil, fmt.Errorf("panel: load api settings: %w", err)
	}
	if m[settings.KeyEnableAPIAccess] != "true" {
		return nil, errAPIDisabled
	}
	if m[settings.KeyAPIKey] == "" {
		return nil, errNoAPIKey
	}
	return knowledge.New(active.URL, m[settings.KeyAPIKey], p.knowledge...)
}

// ListCollections lists the knowledge collections.
func (p *Panel) ListCollections(ctx context.Context) ([]knowledge.Collection, error) {
	c, err := p.client(ctx)
	if err != nil {
		p.status.Fail(userMessage(err))
		return nil, err
	}
	cols, err := c.List(ctx)
	if err != nil {
		p.status.Fail(userMessage(err))
		return nil, err
	}
	return cols, nil
}

// CreateCollection creates an empty knowledge collection.
func (p *Panel) CreateCollection(ctx context.Context, name, description string) (*knowledge.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		p.status.Fail(errNoName.Message)
		return nil, errNoName
	}
	c, err := p.client(ctx)
	if err != nil {
		p.status.Fail(userMessage(err))
		return nil, err
	}
	col, err := c.Create(ctx, knowledge.CreateRequest{Name: name, Description: description})
	if err != nil {
		p.status.Fail(userMessage(err))
		return nil, err
	}
	p.status.Info(fmt.Sprintf("Knowledge collection %s created.", col.Name))
	return col, nil
}

// UploadToNewCollection creates a collection named name and uploads the tab
// at rawURL (active tab when empty) into it. The new collection becomes the
// last used one.
func (p *Panel) UploadToNewCollection(ctx context.Context, rawURL, name, description string) (res *UploadResult, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		p.status.Fail(errNoName.Message)
		return nil, errNoName
	}
	start := time.Now()
	defer func() {
		ev := observability.Event{
			Kind: observability.KindUpload, Target: name, Action: rawURL,
			Success: err == nil, DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			ev.Message = userMessage(err)
			p.status.Fail(ev.Message)
		} else {
			ev.Target, ev.Message = res.CollectionID, res.FileName
		}
		p.record(ctx, ev)
	}()

	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	tab, err := p.tab(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	ctx = kit.WithTab(ctx, tab.ID)
	file, mime, data, err := p.tabFile(ctx, tab)
	if err != nil {
		return nil, err
	}

	p.status.Info(fmt.Sprintf("Creating %s and uploading %s...", name, file))
	wf, err := c.CompleteWorkflow(ctx, name, description, file, mime, data)
	if err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, settings.Local, map[string]string{settings.KeyLastUsedCollectionID: wf.Collection.ID}); err != nil {
		p.logger.Warn("panel: remember collection", "error", err)
	}
	p.status.Info(fmt.Sprintf("File uploaded to new collection %s successfully!", name))
	return &UploadResult{CollectionID: wf.Collection.ID, FileID: wf.File.ID, FileName: file, Bytes: len(data)}, nil
}

// UploadPageToDefault uploads the tab at rawURL (active tab when empty) to
// the default collection.
func (p *Panel) UploadPageToDefault(ctx context.Context, rawURL string) (*UploadResult, error) {
	id, err := settings.String(ctx, p.store, settings.Synced, settings.KeyKnowledgeCollectionID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		p.status.Fail(errNoCollection.Message)
		return nil, errNoCollection
	}
	res, err := p.upload(ctx, rawURL, id)
	if err == nil {
		p.status.Info("Tab uploaded to default knowledge collection successfully!")
	}
	return res, err
}

// UploadToCollection uploads to collectionID and remembers it as the last
// used collection. An empty collectionID means the default collection.
func (p *Panel) UploadToCollection(ctx context.Context, rawURL, collectionID string) (*UploadResult, error) {
	if collectionID == "" {
		return p.UploadPageToDefault(ctx, rawURL)
	}
	res, err := p.upload(ctx, rawURL, collectionID)
	if err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, settings.Local, map[string]string{settings.KeyLastUsedCollectionID: collectionID}); err != nil {
		p.logger.Warn("panel: remember collection", "error", err)
	}
	p.status.Info(fmt.Sprintf("File uploaded to %s successfully!", collectionID))
	return res, nil
}

// LastUsedCollection returns the collection of the last specific upload.
func (p *Panel) LastUsedCollection(ctx context.Context) (string, error) {
	return settings.String(ctx, p.store, settings.Local, settings.KeyLastUsedCollectionID)
}

func (p *Panel) upload(ctx context.Context, rawURL, collectionID string) (res *UploadResult, err error) {
	start := time.Now()
	defer func() {
		ev := observability.Event{
			Kind: observability.KindUpload, Target: collectionID, Action: rawURL,
			Success: err == nil, DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			ev.Message = userMessage(err)
			p.status.Fail(ev.Message)
		} else {
			ev.Message = res.FileName
		}
		p.record(ctx, ev)
	}()

	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	tab, err := p.tab(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	ctx = kit.WithTab(ctx, tab.ID)
	name, mime, data, err := p.tabFile(ctx, tab)
	if err != nil {
		return nil, err
	}

	p.status.Info(fmt.Sprintf("Uploading %s...", name))
	f, err := c.UploadFile(ctx, name, mime, data)
	if err != nil {
		return nil, err
	}
	if err := sleep(ctx, p.settle); err != nil {
		return nil, err
	}
	p.status.Info("Adding to knowledge collection...")
	if _, err := c.AddFile(ctx, collectionID, f.ID); err != nil {
		return nil, err
	}
	return &UploadResult{CollectionID: collectionID, FileID: f.ID, FileName: name, Bytes: len(data)}, nil
}

// tabFile turns a tab into an uploadable file: PDFs go through the
// acquisition chain, pages through the capturer.
func (p *Panel) tabFile(ctx context.Context, tab Tab) (name, mime string, data []byte, err error) {
	switch {
	case acquire.IsYouTubeURL(tab.URL):
		return "", "", nil, ErrYouTubeUpload
	case acquire.IsPDFURL(tab.URL):
		res, err := p.acq.Acquire(ctx, tab.URL)
		if err != nil {
			return "", "", nil, err
		}
		return pdfFileName(tab.URL), "application/pdf", res.Bytes, nil
	}

	p.status.Info("Extracting tab content...")
	doc, err := p.capture(ctx, tab)
	if err != nil {
		return "", "", nil, err
	}
	if p.markdown {
		md, err := doc.Markdown()
		if p.useMarkdown(tab.URL, md, err) {
			return doc.FileNameExt(".md"), "text/markdown", []byte(md), nil
		}
	}
	return doc.FileName(), "text/html", []byte(doc.HTML), nil
}

// useMarkdown reports whether a conversion result is worth uploading. A
// failed conversion and an empty one are logged apart.
func (p *Panel) useMarkdown(rawURL, md string, err error) bool {
	switch {
	case err != nil:
		p.logger.Warn("panel: markdown conversion failed, uploading html", "url", rawURL, "error", err)
		return false
	case strings.TrimSpace(md) == "":
		p.logger.Info("panel: markdown empty, uploading html", "url", rawURL)
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
