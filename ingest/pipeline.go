package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	recall "github.com/altanhq/recall"
)

// Pipeline runs the staged ingestion state machine: received, extracted,
// chunked, embedded, indexed. Every stage transition is persisted before the
// next stage starts, so a crash leaves an honest job record behind. Failure
// at any stage moves the job and its document to failed together.
type Pipeline struct {
	store      recall.Store
	embedding  recall.EmbeddingProvider
	chunker    *TextChunker
	temporal   *TemporalChunker
	extractors map[recall.SourceType]Extractor
	web        *WebExtractor

	uploadDir    string
	maxFileBytes int64
	batchSize    int
	modelName    string
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunker sets the text chunker.
func WithChunker(c *TextChunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithTemporalChunker sets the chunker for audio transcripts.
func WithTemporalChunker(c *TemporalChunker) Option {
	return func(p *Pipeline) { p.temporal = c }
}

// WithExtractor registers an Extractor for a source type, replacing the
// default. Audio has no default; register one built on a Transcriber.
func WithExtractor(st recall.SourceType, e Extractor) Option {
	return func(p *Pipeline) { p.extractors[st] = e }
}

// WithWebExtractor sets the extractor used for URL ingestion.
func WithWebExtractor(w *WebExtractor) Option {
	return func(p *Pipeline) { p.web = w }
}

// WithUploadDir sets where uploaded files are staged (default "uploads").
func WithUploadDir(dir string) Option {
	return func(p *Pipeline) { p.uploadDir = dir }
}

// WithMaxFileBytes caps accepted uploads (default 50MB).
func WithMaxFileBytes(n int64) Option {
	return func(p *Pipeline) { p.maxFileBytes = n }
}

// WithBatchSize sets the number of chunks per Embed() call (default 64).
func WithBatchSize(n int) Option {
	return func(p *Pipeline) { p.batchSize = n }
}

// WithEmbeddingModel sets the model name recorded on stored embeddings
// (default: the provider's Name()).
func WithEmbeddingModel(name string) Option {
	return func(p *Pipeline) { p.modelName = name }
}

// WithLogger sets the structured logger for stage events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline with text, markdown, PDF, and web
// extractors registered by default.
func NewPipeline(store recall.Store, embedding recall.EmbeddingProvider, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		embedding: embedding,
		chunker:   NewTextChunker(),
		temporal:  NewTemporalChunker(),
		extractors: map[recall.SourceType]Extractor{
			recall.SourceText:     NewTextExtractor(),
			recall.SourceMarkdown: NewMarkdownExtractor(),
			recall.SourcePDF:      NewPDFExtractor(),
		},
		web:          NewWebExtractor(),
		uploadDir:    "uploads",
		maxFileBytes: 50 << 20,
		batchSize:    64,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.modelName == "" {
		p.modelName = embedding.Name()
	}
	p.extractors[recall.SourceWeb] = p.web
	return p
}

// TextInput is direct text ingestion. Title is optional. CreatedAt is the
// content's own unix timestamp for backdated notes; zero means now.
type TextInput struct {
	Title     string
	Text      string
	CreatedAt int64
}

// IngestText ingests raw text synchronously and returns the terminal job.
// Empty text is not an error: it completes as a zero-chunk document.
func (p *Pipeline) IngestText(ctx context.Context, userID string, in TextInput) (recall.IngestionJob, error) {
	title := in.Title
	if title == "" {
		title = textTitle(in.Text)
	}
	doc := recall.Document{
		ID:          recall.NewID(),
		UserID:      userID,
		SourceType:  recall.SourceText,
		Title:       title,
		ContentHash: hashBytes([]byte(in.Text)),
		Status:      recall.DocPending,
		CreatedAt:   orNow(in.CreatedAt),
		UpdatedAt:   recall.NowUnix(),
	}
	return p.run(ctx, doc, in.Title, []byte(in.Text), "")
}

// IngestURL fetches and ingests a web page synchronously.
func (p *Pipeline) IngestURL(ctx context.Context, userID, rawURL string) (recall.IngestionJob, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return recall.IngestionJob{}, recall.Errf(recall.KindValidation, "invalid URL %q", rawURL)
	}
	body, err := p.web.Fetch(ctx, rawURL)
	if err != nil {
		return recall.IngestionJob{}, err
	}
	doc := recall.Document{
		ID:          recall.NewID(),
		UserID:      userID,
		SourceType:  recall.SourceWeb,
		Title:       hostTitle(rawURL),
		SourceURI:   rawURL,
		ContentHash: hashBytes(body),
		Status:      recall.DocPending,
		CreatedAt:   recall.NowUnix(),
		UpdatedAt:   recall.NowUnix(),
		FetchedAt:   recall.NowUnix(),
	}
	return p.run(ctx, doc, "", body, rawURL)
}

// FileInput describes an uploaded file. SourceType is authoritative when
// set; empty means infer from the filename extension. CreatedAt is the
// content's own unix timestamp; zero means now.
type FileInput struct {
	Filename   string
	SourceType recall.SourceType
	CreatedAt  int64
}

// IngestFile stages an uploaded file and ingests it synchronously.
func (p *Pipeline) IngestFile(ctx context.Context, userID string, in FileInput, r io.Reader) (recall.IngestionJob, error) {
	st := in.SourceType
	if st == "" {
		var err error
		if st, err = sourceTypeForFile(in.Filename); err != nil {
			return recall.IngestionJob{}, err
		}
	}
	if _, ok := p.extractors[st]; !ok {
		return recall.IngestionJob{}, recall.Errf(recall.KindValidation, "no extractor for %s files", st)
	}

	data, err := io.ReadAll(io.LimitReader(r, p.maxFileBytes+1))
	if err != nil {
		return recall.IngestionJob{}, recall.Wrap(recall.KindValidation, err, "read upload")
	}
	if int64(len(data)) > p.maxFileBytes {
		return recall.IngestionJob{}, recall.Errf(recall.KindValidation, "file exceeds %d bytes", p.maxFileBytes)
	}

	staged, err := p.stageFile(userID, in.Filename, st, data)
	if err != nil {
		return recall.IngestionJob{}, err
	}

	doc := recall.Document{
		ID:               recall.NewID(),
		UserID:           userID,
		SourceType:       st,
		Title:            in.Filename,
		SourceURI:        staged,
		OriginalFilename: in.Filename,
		ContentHash:      hashBytes(data),
		Status:           recall.DocPending,
		CreatedAt:        orNow(in.CreatedAt),
		UpdatedAt:        recall.NowUnix(),
	}
	return p.run(ctx, doc, "", data, in.Filename)
}

// stageFile writes the upload under {uploadDir}/{userID}/{audio|documents}/
// with a fresh UUID name, keeping the original extension.
func (p *Pipeline) stageFile(userID, filename string, st recall.SourceType, data []byte) (string, error) {
	sub := "documents"
	if st == recall.SourceAudio {
		sub = "audio"
	}
	dir := filepath.Join(p.uploadDir, userID, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", recall.Wrap(recall.KindStorage, err, "create upload dir")
	}
	path := filepath.Join(dir, uuid.Must(uuid.NewV7()).String()+strings.ToLower(filepath.Ext(filename)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", recall.Wrap(recall.KindStorage, err, "stage upload")
	}
	return path, nil
}

// run drives the stage machine for one document. name carries the filename
// or URL for the extractor.
func (p *Pipeline) run(ctx context.Context, doc recall.Document, providedTitle string, data []byte, name string) (recall.IngestionJob, error) {
	job := recall.IngestionJob{
		ID:         recall.NewID(),
		UserID:     doc.UserID,
		DocumentID: doc.ID,
		SourceType: doc.SourceType,
		Status:     recall.JobRunning,
		Stage:      recall.StageReceived,
		CreatedAt:  recall.NowUnix(),
		UpdatedAt:  recall.NowUnix(),
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return recall.IngestionJob{}, recall.Wrap(recall.KindStorage, err, "create document")
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return recall.IngestionJob{}, recall.Wrap(recall.KindStorage, err, "create job")
	}
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, recall.DocProcessing); err != nil {
		return p.fail(ctx, job, err)
	}
	p.logger.Info("ingest received", "job_id", job.ID, "document_id", doc.ID, "source_type", doc.SourceType)

	// Extract.
	extractor := p.extractors[doc.SourceType]
	content, err := extractor.Extract(ctx, data, name)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	title := resolveTitle(providedTitle, content.Title, doc)
	metaJSON, _ := json.Marshal(content.Metadata)
	if len(content.Metadata) == 0 {
		metaJSON = nil
	}
	if err := p.store.UpdateDocumentExtraction(ctx, doc.ID, title, content.Text, metaJSON); err != nil {
		return p.fail(ctx, job, err)
	}
	if job, err = p.advance(ctx, job, recall.StageExtracted); err != nil {
		return p.fail(ctx, job, err)
	}

	// Chunk.
	var pieces []Piece
	if doc.SourceType == recall.SourceAudio && len(content.Segments) > 0 {
		pieces = p.temporal.Chunk(content.Segments)
	} else {
		pieces = p.chunker.Chunk(content.Text, content.Pages)
	}
	if job, err = p.advance(ctx, job, recall.StageChunked); err != nil {
		return p.fail(ctx, job, err)
	}
	p.logger.Info("ingest chunked", "job_id", job.ID, "chunks", len(pieces))

	// Embed.
	vectors, err := p.embedPieces(ctx, pieces)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	if job, err = p.advance(ctx, job, recall.StageEmbedded); err != nil {
		return p.fail(ctx, job, err)
	}

	// Index. StoreChunks also moves document and job to completed.
	chunks, embeddings := p.buildRecords(doc, pieces, vectors)
	if err := p.store.StoreChunks(ctx, doc.ID, job.ID, chunks, embeddings); err != nil {
		return p.fail(ctx, job, recall.Wrap(recall.KindStorage, err, "store chunks"))
	}
	job.Stage = recall.StageIndexed
	job.Status = recall.JobCompleted
	p.logger.Info("ingest indexed", "job_id", job.ID, "document_id", doc.ID, "chunks", len(chunks))
	return job, nil
}

func (p *Pipeline) advance(ctx context.Context, job recall.IngestionJob, stage recall.JobStage) (recall.IngestionJob, error) {
	if err := p.store.UpdateJobStage(ctx, job.ID, stage); err != nil {
		return job, recall.Wrap(recall.KindStorage, err, "advance to "+string(stage))
	}
	job.Stage = stage
	return job, nil
}

func (p *Pipeline) fail(ctx context.Context, job recall.IngestionJob, cause error) (recall.IngestionJob, error) {
	p.logger.Error("ingest failed", "job_id", job.ID, "stage", job.Stage, "error", cause)
	if err := p.store.MarkFailed(ctx, job.ID, job.DocumentID, cause.Error()); err != nil {
		p.logger.Error("mark failed", "job_id", job.ID, "error", err)
	}
	job.Status = recall.JobFailed
	job.Error = cause.Error()
	return job, cause
}

func (p *Pipeline) embedPieces(ctx context.Context, pieces []Piece) ([][]float32, error) {
	vectors := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += p.batchSize {
		end := min(start+p.batchSize, len(pieces))
		texts := make([]string, 0, end-start)
		for _, piece := range pieces[start:end] {
			texts = append(texts, piece.Text)
		}
		embs, err := p.embedding.Embed(ctx, texts)
		if err != nil {
			return nil, recall.Wrap(recall.KindEmbedding, err, "embed batch")
		}
		if len(embs) != len(texts) {
			return nil, recall.Errf(recall.KindEmbedding, "got %d embeddings for %d texts", len(embs), len(texts))
		}
		vectors = append(vectors, embs...)
	}
	return vectors, nil
}

func (p *Pipeline) buildRecords(doc recall.Document, pieces []Piece, vectors [][]float32) ([]recall.Chunk, []recall.ChunkEmbedding) {
	chunks := make([]recall.Chunk, 0, len(pieces))
	embeddings := make([]recall.ChunkEmbedding, 0, len(pieces))
	for i, piece := range pieces {
		chunk := recall.Chunk{
			ID:             recall.NewID(),
			DocumentID:     doc.ID,
			UserID:         doc.UserID,
			ChunkIndex:     i,
			Content:        piece.Text,
			TokenCount:     piece.TokenCount,
			CharStart:      piece.CharStart,
			CharEnd:        piece.CharEnd,
			StartPage:      piece.StartPage,
			EndPage:        piece.EndPage,
			StartTimeMs:    piece.StartTimeMs,
			EndTimeMs:      piece.EndTimeMs,
			SourceOffsetMs: piece.SourceOffsetMs,
			CreatedAt:      recall.NowUnix(),
		}
		chunks = append(chunks, chunk)
		embeddings = append(embeddings, recall.ChunkEmbedding{
			ID:             recall.NewID(),
			ChunkID:        chunk.ID,
			Embedding:      vectors[i],
			EmbeddingModel: p.modelName,
			CreatedAt:      recall.NowUnix(),
		})
	}
	return chunks, embeddings
}

// sourceTypeForFile infers the source type from the file extension.
func sourceTypeForFile(filename string) (recall.SourceType, error) {
	if SupportedAudioExt(filename) {
		return recall.SourceAudio, nil
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return recall.SourcePDF, nil
	case ".md", ".markdown":
		return recall.SourceMarkdown, nil
	case ".txt", ".text":
		return recall.SourceText, nil
	}
	return "", recall.Errf(recall.KindValidation, "unsupported file type %q", filepath.Ext(filename))
}

// resolveTitle picks the document title: caller-provided, then extracted,
// then whatever the document record already carries.
func resolveTitle(provided, extracted string, doc recall.Document) string {
	if provided != "" {
		return provided
	}
	if extracted != "" {
		return extracted
	}
	return doc.Title
}

// textTitle derives a title from raw text: the first 100 chars, with an
// ellipsis when truncated.
func textTitle(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if len(t) <= 100 {
		return t
	}
	cut := t[:100]
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}

func orNow(unix int64) int64 {
	if unix != 0 {
		return unix
	}
	return recall.NowUnix()
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
