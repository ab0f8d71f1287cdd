package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/smithy-go"

	"github.com/comigor/jarvis-rag/internal/config"
	"github.com/comigor/jarvis-rag/internal/logger"
)

// ErrNoKnowledgeBase is returned when no knowledge base id is configured.
var ErrNoKnowledgeBase = errors.New("knowledge base id is not configured")

// RuntimeAPI is the subset of the Bedrock agent runtime client in use.
type RuntimeAPI interface {
	Retrieve(ctx context.Context, in *bedrockagentruntime.RetrieveInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
	Rerank(ctx context.Context, in *bedrockagentruntime.RerankInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RerankOutput, error)
}

// KnowledgeBase searches a Bedrock knowledge base by vector similarity.
type KnowledgeBase struct {
	api     RuntimeAPI
	id      string
	results int
}

// NewKnowledgeBase returns a Searcher asking for up to results hits per query.
func NewKnowledgeBase(api RuntimeAPI, id string, results int) *KnowledgeBase {
	return &KnowledgeBase{api: api, id: id, results: results}
}

// Search implements Searcher.
func (k *KnowledgeBase) Search(ctx context.Context, query string) ([]Document, error) {
	out, err := k.api.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(k.id),
		RetrievalQuery:  &types.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(int32(k.results)),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock retrieve: %w", apiError(err))
	}

	docs := make([]Document, 0, len(out.RetrievalResults))
	for _, r := range out.RetrievalResults {
		d := Document{Metadata: map[string]any{}}
		if r.Content != nil {
			d.Content = aws.ToString(r.Content.Text)
		}
		for key, v := range r.Metadata {
			d.Metadata[key] = decodeDocument(v)
		}
		if r.Location != nil {
			d.Metadata["location_type"] = string(r.Location.Type)
			if r.Location.S3Location != nil {
				d.Metadata["location"] = aws.ToString(r.Location.S3Location.Uri)
			}
		}
		if r.Score != nil {
			d.Score = *r.Score
			d.Metadata["score"] = *r.Score
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func decodeDocument(v document.Interface) any {
	if v == nil {
		return nil
	}
	b, err := v.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

// apiError surfaces the service error code in the message.
func apiError(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s: %w", ae.ErrorCode(), err)
	}
	return err
}

// BedrockReranker reorders documents with a Bedrock reranking model.
type BedrockReranker struct {
	api      RuntimeAPI
	modelARN string
	topN     int
}

// NewBedrockReranker returns a Reranker keeping the topN best documents.
func NewBedrockReranker(api RuntimeAPI, region, modelID string, topN int) *BedrockReranker {
	return &BedrockReranker{
		api:      api,
		modelARN: fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", region, modelID),
		topN:     topN,
	}
}

// Rerank implements Reranker.
func (b *BedrockReranker) Rerank(ctx context.Context, query string, docs []Document) ([]Document, error) {
	sources := make([]types.RerankSource, 0, len(docs))
	for _, d := range docs {
		sources = append(sources, types.RerankSource{
			Type: types.RerankSourceTypeInline,
			InlineDocumentSource: &types.RerankDocument{
				Type:         types.RerankDocumentTypeText,
				TextDocument: &types.RerankTextDocument{Text: aws.String(d.Content)},
			},
		})
	}
	n := min(b.topN, len(docs))

	out, err := b.api.Rerank(ctx, &bedrockagentruntime.RerankInput{
		Queries: []types.RerankQuery{{
			Type:      types.RerankQueryContentTypeText,
			TextQuery: &types.RerankTextDocument{Text: aws.String(query)},
		}},
		Sources: sources,
		RerankingConfiguration: &types.RerankingConfiguration{
			Type: types.RerankingConfigurationTypeBedrockRerankingModel,
			BedrockRerankingConfiguration: &types.BedrockRerankingConfiguration{
				ModelConfiguration: &types.BedrockRerankingModelConfiguration{
					ModelArn: aws.String(b.modelARN),
				},
				NumberOfResults: aws.Int32(int32(n)),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock rerank: %w", apiError(err))
	}

	ranked := make([]Document, 0, len(out.Results))
	for _, r := range out.Results {
		i := int(aws.ToInt32(r.Index))
		if i < 0 || i >= len(docs) {
			logger.L.Warn("rerank returned out-of-range index", "index", i, "count", len(docs))
			continue
		}
		d := docs[i]
		md := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			md[k] = v
		}
		score := float64(aws.ToFloat32(r.RelevanceScore))
		md["relevance_score"] = score
		d.Metadata = md
		d.Score = score
		ranked = append(ranked, d)
	}
	return ranked, nil
}

// NewBedrock builds a Retriever against Bedrock from configuration. Static
// credentials are used when an access key is configured, otherwise the
// default AWS credential chain applies.
func NewBedrock(ctx context.Context, cfg config.RetrievalConfig) (*Retriever, error) {
	if cfg.KnowledgeBaseID == "" {
		return nil, ErrNoKnowledgeBase
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	api := bedrockagentruntime.NewFromConfig(awsCfg)

	var reranker Reranker
	if cfg.UseReranking {
		reranker = NewBedrockReranker(api, cfg.Region, cfg.RerankModelID, cfg.TopN)
		logger.L.Info("reranking enabled", "model", cfg.RerankModelID, "top_n", cfg.TopN)
	}
	return New(NewKnowledgeBase(api, cfg.KnowledgeBaseID, cfg.InitialResults), reranker), nil
}
