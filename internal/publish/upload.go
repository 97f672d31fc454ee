package publish

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/parser"
)

// Upload error types recorded in UploadStats.
const (
	ErrorTypeProduct   = "product"
	ErrorTypeAttribute = "attribute"
	ErrorTypeImage     = "image"
)

// Downstream attribute names.
const (
	AttributeSKU   = "SKU"
	AttributeSize  = "Size"
	AttributeColor = "Color"
)

// UploadOutcome is the result for one product.
type UploadOutcome struct {
	Success   bool   `json:"success"`
	Title     string `json:"title"`
	ProductID string `json:"productId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UploadResult summarizes a full upload run.
type UploadResult struct {
	Total   int                   `json:"total"`
	Success int                   `json:"success"`
	Errors  []catalog.UploadError `json:"errors"`
	Results []UploadOutcome       `json:"results"`
}

// UploadAll resets statistics and uploads every product in snapshot order,
// waiting ProductDelay between products.
func (p *Pipeline) UploadAll(ctx context.Context) (UploadResult, error) {
	products, err := p.products(ctx)
	if err != nil {
		return UploadResult{}, err
	}
	p.ResetStats()
	p.logger.Info("upload started", zap.Int("products", len(products)))

	results := make([]UploadOutcome, 0, len(products))
	for i, product := range products {
		if ctx.Err() != nil {
			break
		}
		results = append(results, p.uploadProduct(ctx, product))
		if i < len(products)-1 {
			p.pauseFor(ctx, p.cfg.ProductDelay)
		}
	}

	stats := p.Stats()
	p.logger.Info("upload finished", zap.Int("success", stats.Success), zap.Int("errors", len(stats.Errors)))
	return UploadResult{
		Total:   stats.Total,
		Success: stats.Success,
		Errors:  stats.Errors,
		Results: results,
	}, nil
}

// UploadOne resets statistics and uploads the product at a zero-based index.
// A failed product create is returned as an error alongside the outcome.
func (p *Pipeline) UploadOne(ctx context.Context, index int) (UploadOutcome, error) {
	products, err := p.products(ctx)
	if err != nil {
		return UploadOutcome{}, err
	}
	if index < 0 || index >= len(products) {
		return UploadOutcome{}, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidIndex, index, len(products))
	}
	p.ResetStats()
	outcome := p.uploadProduct(ctx, products[index])
	if !outcome.Success {
		return outcome, catalog.NewError(catalog.KindDownstream, "upload product", outcome.Title, fmt.Errorf("%s", outcome.Error))
	}
	return outcome, nil
}

// uploadProduct creates the product, then its attributes, then its images.
// Only a failed create fails the product. Total counts products whose
// pipeline ran to the end.
func (p *Pipeline) uploadProduct(ctx context.Context, product catalog.Product) UploadOutcome {
	logger := p.logger.With(zap.String("title", product.Title))
	draft := catalog.ProductDraft{
		Name:        product.Title,
		Description: product.Description,
		Price:       ParsePrice(product.Price),
		Stock:       p.cfg.Stock,
	}
	id, err := p.api.CreateProduct(ctx, draft)
	if err != nil {
		p.recordError(ErrorTypeProduct, product.Title, err)
		metrics.ObservePublishStep("product", "error")
		logger.Warn("product create failed", zap.Error(err))
		return UploadOutcome{Title: product.Title, Error: err.Error()}
	}
	p.mu.Lock()
	p.stats.Success++
	p.mu.Unlock()
	metrics.ObservePublishStep("product", "ok")
	logger = logger.With(zap.String("product_id", id))

	p.uploadAttributes(ctx, logger, id, product)
	p.uploadImages(ctx, logger, id, product)

	p.mu.Lock()
	p.stats.Total++
	p.mu.Unlock()
	logger.Info("product uploaded")
	return UploadOutcome{Success: true, Title: product.Title, ProductID: id}
}

func (p *Pipeline) uploadAttributes(ctx context.Context, logger *zap.Logger, id string, product catalog.Product) {
	type attr struct{ name, value string }
	var attrs []attr
	if v := strings.TrimSpace(product.SKU.Value); v != "" {
		attrs = append(attrs, attr{AttributeSKU, v})
	}
	for _, s := range product.Sizes {
		attrs = append(attrs, attr{AttributeSize, s})
	}
	for _, c := range product.Colors {
		attrs = append(attrs, attr{AttributeColor, c})
	}
	for _, a := range attrs {
		if err := p.api.CreateAttribute(ctx, id, a.name, a.value); err != nil {
			p.recordError(ErrorTypeAttribute, a.name+"="+a.value, err)
			metrics.ObservePublishStep("attribute", "error")
			logger.Warn("attribute create failed", zap.String("attribute", a.name), zap.String("value", a.value), zap.Error(err))
			continue
		}
		metrics.ObservePublishStep("attribute", "ok")
	}
}

func (p *Pipeline) uploadImages(ctx context.Context, logger *zap.Logger, id string, product catalog.Product) {
	for i, raw := range product.Images {
		src := parser.NormalizeImageURL(raw)
		hosted, err := p.hostedURL(ctx, id, i+1, src)
		if err != nil {
			p.recordError(ErrorTypeImage, src, err)
			metrics.ObservePublishStep("image", "error")
			logger.Warn("image hosting failed", zap.String("url", src), zap.Error(err))
			continue
		}
		if err := p.api.CreateImage(ctx, id, hosted); err != nil {
			p.recordError(ErrorTypeImage, src, err)
			metrics.ObservePublishStep("image", "error")
			logger.Warn("image association failed", zap.String("url", hosted), zap.Error(err))
			continue
		}
		metrics.ObservePublishStep("image", "ok")
	}
}

// hostedURL stages src locally, uploads it to the image host and removes the
// staged file. Previously hosted sources are served from the memo.
func (p *Pipeline) hostedURL(ctx context.Context, productID string, n int, src string) (string, error) {
	if p.memo != nil {
		if hosted, ok := p.memo.Get(src); ok {
			return hosted, nil
		}
	}
	rel := path.Join(safeSegment(productID), "images", fmt.Sprintf("image_%d%s", n, ImageExtension(src)))
	if err := p.download(ctx, src, p.staging, rel); err != nil {
		return "", err
	}
	defer func() {
		if err := p.staging.Remove(rel); err != nil {
			p.logger.Debug("staged image cleanup failed", zap.String("path", rel), zap.Error(err))
		}
	}()
	local, err := p.staging.Path(rel)
	if err != nil {
		return "", err
	}
	hosted, err := p.host.Upload(ctx, local)
	if err != nil {
		return "", err
	}
	if p.memo != nil {
		p.memo.Add(src, hosted)
	}
	return hosted, nil
}

var nonDigits = regexp.MustCompile(`\D`)

// ParsePrice keeps only the digits of a display price. Empty, unparsable or
// overflowing input yields 0.
func ParsePrice(s string) int64 {
	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func safeSegment(s string) string {
	s = unsafeSegment.ReplaceAllString(s, "_")
	if s == "" {
		return "_"
	}
	return s
}
