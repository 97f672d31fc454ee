package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/parser"
)

// ExportFailure names a product whose folder could not be written.
type ExportFailure struct {
	ProductID int    `json:"productId"`
	Title     string `json:"title"`
	Error     string `json:"error"`
}

// ExportResult summarizes an export run.
type ExportResult struct {
	Message    string          `json:"message"`
	Total      int             `json:"total"`
	Success    int             `json:"success"`
	Errors     int             `json:"errors"`
	Failures   []ExportFailure `json:"failures"`
	ExportPath string          `json:"exportPath"`
}

type manifest struct {
	Title      string               `json:"title"`
	Price      string               `json:"price"`
	PriceOld   string               `json:"priceOld"`
	Sale       string               `json:"sale"`
	URL        string               `json:"url"`
	SKU        catalog.LabeledValue `json:"SKU"`
	Status     catalog.LabeledValue `json:"status"`
	Brand      catalog.LabeledValue `json:"brand"`
	SizeList   []string             `json:"sizeList"`
	ColorList  []string             `json:"colorList"`
	Desc       string               `json:"desc"`
	ExportedAt string               `json:"exportedAt"`
}

// Export writes <root>/<n>/info.json for every product, numbered from 1, and
// downloads each product's images into <root>/<n>/images.
func (p *Pipeline) Export(ctx context.Context) (ExportResult, error) {
	products, err := p.products(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	res := ExportResult{
		Total:      len(products),
		Failures:   []ExportFailure{},
		ExportPath: p.exports.Root(),
	}
	p.logger.Info("export started", zap.Int("products", len(products)), zap.String("path", res.ExportPath))

	for i, product := range products {
		if ctx.Err() != nil {
			break
		}
		n := i + 1
		if err := p.exportProduct(ctx, n, product); err != nil {
			res.Errors++
			res.Failures = append(res.Failures, ExportFailure{ProductID: n, Title: product.Title, Error: err.Error()})
			metrics.ObservePublishStep("export", "error")
			p.logger.Warn("export product failed", zap.Int("product", n), zap.String("title", product.Title), zap.Error(err))
			continue
		}
		res.Success++
		metrics.ObservePublishStep("export", "ok")
	}
	res.Message = fmt.Sprintf("exported %d of %d products", res.Success, res.Total)
	p.logger.Info("export finished", zap.Int("success", res.Success), zap.Int("errors", res.Errors))
	return res, nil
}

func (p *Pipeline) exportProduct(ctx context.Context, n int, product catalog.Product) error {
	dir := strconv.Itoa(n)
	if _, err := p.exports.EnsureDir(ctx, path.Join(dir, "images")); err != nil {
		return catalog.NewError(catalog.KindPersistence, "create product folder", dir, err)
	}
	data, err := json.MarshalIndent(manifest{
		Title:      product.Title,
		Price:      product.Price,
		PriceOld:   product.PriceOld,
		Sale:       product.Sale,
		URL:        product.URL,
		SKU:        product.SKU,
		Status:     product.Status,
		Brand:      product.Brand,
		SizeList:   nonNil(product.Sizes),
		ColorList:  nonNil(product.Colors),
		Desc:       product.Description,
		ExportedAt: p.clock.Now().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return catalog.NewError(catalog.KindPersistence, "encode manifest", dir, err)
	}
	if _, err := p.exports.PutObject(ctx, path.Join(dir, "info.json"), "application/json", bytes.NewReader(data)); err != nil {
		return catalog.NewError(catalog.KindPersistence, "write manifest", dir, err)
	}
	if len(product.Images) > 0 {
		saved := p.downloadImages(ctx, path.Join(dir, "images"), product.Images)
		p.logger.Debug("product images exported", zap.Int("product", n), zap.Int("saved", saved), zap.Int("total", len(product.Images)))
	}
	return nil
}

// downloadImages fetches all images of one product concurrently and returns
// how many were written. Failures are logged only.
func (p *Pipeline) downloadImages(ctx context.Context, dir string, images []string) int {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		saved int
	)
	for i, raw := range images {
		wg.Add(1)
		go func(n int, raw string) {
			defer wg.Done()
			target := path.Join(dir, fmt.Sprintf("image_%d%s", n, ImageExtension(raw)))
			if err := p.download(ctx, raw, p.exports, target); err != nil {
				metrics.ObservePublishStep("export_image", "error")
				p.logger.Warn("image download failed", zap.String("url", raw), zap.Error(err))
				return
			}
			metrics.ObservePublishStep("export_image", "ok")
			mu.Lock()
			saved++
			mu.Unlock()
		}(i+1, raw)
	}
	wg.Wait()
	return saved
}

func (p *Pipeline) download(ctx context.Context, raw string, store BlobStore, target string) error {
	src := parser.NormalizeImageURL(raw)
	resp, err := p.fetcher.Fetch(ctx, catalog.FetchRequest{URL: src})
	if err != nil {
		return catalog.NewError(catalog.KindFetch, "download image", src, err)
	}
	if _, err := store.PutObject(ctx, target, resp.Headers.Get("Content-Type"), bytes.NewReader(resp.Body)); err != nil {
		return catalog.NewError(catalog.KindPersistence, "write image", target, err)
	}
	return nil
}

// ImageExtension returns the file extension of an image URL's path, or .jpg.
func ImageExtension(raw string) string {
	u, err := url.Parse(parser.NormalizeImageURL(raw))
	if err != nil {
		return ".jpg"
	}
	ext := path.Ext(u.Path)
	if ext == "" || ext == "." {
		return ".jpg"
	}
	return ext
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
