package memory

import (
	"context"
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/codec"
	"github.com/skillre/mindmap-qoder/internal/naming"
)

// DemoRepository is the only repository a memory store exposes.
const DemoRepository = "mindmaps-demo"

const (
	maxDemoContentSize = 256 * 1024 // 256KB
	maxDemoPathLength  = 255
	maxDemoItemCount   = 50

	itemTTL = 60 * time.Minute
)

func getTableName() *string {
	name := os.Getenv("DOCUMENT_STORE_TABLE")
	if name == "" {
		name = "MindmapDocuments"
	}
	return aws.String(name)
}

// DynamoAPI is the subset of the DynamoDB client used by the store.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DocumentItem is the DynamoDB record of one document.
type DocumentItem struct {
	PK       string    `dynamodbav:"pk"`
	UserID   string    `dynamodbav:"user_id"`
	RepoKey  string    `dynamodbav:"repo_key"`
	Dir      string    `dynamodbav:"dir"`
	Path     string    `dynamodbav:"path"`
	Token    string    `dynamodbav:"etag"`
	Size     int64     `dynamodbav:"size"`
	Modified time.Time `dynamodbav:"modified_time"`
	Content  []byte    `dynamodbav:"content"`
	TTL      int64     `dynamodbav:"ttl"`
}

// MemoryAdapter implements adapter.DocumentStore for demo users.
// If client is nil, it keeps documents in a map (for tests).
// If client is set, it uses DynamoDB (for dev mode persistence); writes and
// deletes are conditional on the stored token so the check is atomic.
type MemoryAdapter struct {
	client DynamoAPI
	userID string

	docs map[string]*DocumentItem
	mu   sync.RWMutex
}

func NewMemoryAdapter(client DynamoAPI, userID string) *MemoryAdapter {
	return &MemoryAdapter{
		client: client,
		userID: userID,
		docs:   make(map[string]*DocumentItem),
	}
}

func repoKey(repo adapter.RepositoryRef) string {
	return repo.FullName() + "@" + repo.Ref()
}

func (m *MemoryAdapter) key(repo adapter.RepositoryRef, p string) string {
	return m.userID + "#" + repoKey(repo) + ":" + p
}

func cleanPath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

func (m *MemoryAdapter) VerifyCredential(ctx context.Context) (*adapter.IdentitySummary, error) {
	if m.userID == "" {
		return nil, adapter.Errorf(adapter.KindUnauthorized, "verify", "", "empty credential")
	}
	return &adapter.IdentitySummary{Login: m.userID, Name: "Demo User"}, nil
}

func (m *MemoryAdapter) ListRepositories(ctx context.Context, visibility string) ([]adapter.Repository, error) {
	if visibility == "public" {
		return []adapter.Repository{}, nil
	}
	return []adapter.Repository{{
		Name:        DemoRepository,
		FullName:    m.userID + "/" + DemoRepository,
		Owner:       m.userID,
		Private:     true,
		Description: "Demo documents, removed after an hour of inactivity",
	}}, nil
}

func (m *MemoryAdapter) ListBranches(ctx context.Context, repo adapter.RepositoryRef) ([]adapter.Branch, error) {
	if err := requireRepo("branches", repo, ""); err != nil {
		return nil, err
	}
	return []adapter.Branch{{Name: adapter.DefaultBranch}}, nil
}

func (m *MemoryAdapter) ListDocuments(ctx context.Context, repo adapter.RepositoryRef, dir string) ([]adapter.StoreEntry, error) {
	if err := requireRepo("list", repo, dir); err != nil {
		return nil, err
	}
	dir = cleanPath(dir)

	var items []DocumentItem
	if m.client == nil {
		m.mu.RLock()
		for _, it := range m.docs {
			if it.RepoKey == repoKey(repo) && it.Dir == dir {
				items = append(items, *it)
			}
		}
		m.mu.RUnlock()
	} else {
		// Scan and filter (inefficient but fine for dev)
		err := m.scan(ctx, &dynamodb.ScanInput{
			TableName:        getTableName(),
			FilterExpression: aws.String("user_id = :uid AND repo_key = :rk AND dir = :dir"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: m.userID},
				":rk":  &types.AttributeValueMemberS{Value: repoKey(repo)},
				":dir": &types.AttributeValueMemberS{Value: dir},
			},
		}, func(out *dynamodb.ScanOutput) error {
			var page []DocumentItem
			if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
				return err
			}
			items = append(items, page...)
			return nil
		})
		if err != nil {
			return nil, upstream("list", dir, err)
		}
	}

	entries := make([]adapter.StoreEntry, 0, len(items))
	for _, it := range items {
		if !strings.HasSuffix(it.Path, naming.Ext) {
			continue
		}
		entries = append(entries, adapter.StoreEntry{
			Name:  path.Base(it.Path),
			Path:  it.Path,
			Token: it.Token,
			Size:  it.Size,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *MemoryAdapter) ReadDocument(ctx context.Context, repo adapter.RepositoryRef, p string) (*codec.Envelope, string, error) {
	if err := requireRepo("read", repo, p); err != nil {
		return nil, "", err
	}
	p = cleanPath(p)

	item, err := m.get(ctx, repo, p)
	if err != nil {
		return nil, "", err
	}
	env, err := codec.UnmarshalEnvelope(item.Content)
	if err != nil {
		return nil, "", &adapter.Error{Kind: adapter.KindDecode, Op: "read", Path: p, Err: err}
	}
	return env, item.Token, nil
}

func (m *MemoryAdapter) get(ctx context.Context, repo adapter.RepositoryRef, p string) (*DocumentItem, error) {
	if m.client == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		it, ok := m.docs[m.key(repo, p)]
		if !ok {
			return nil, adapter.Errorf(adapter.KindNotFound, "read", p, "document not found")
		}
		cp := *it
		return &cp, nil
	}

	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: getTableName(),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: m.key(repo, p)},
		},
	})
	if err != nil {
		return nil, upstream("read", p, err)
	}
	if out.Item == nil {
		return nil, adapter.Errorf(adapter.KindNotFound, "read", p, "document not found")
	}
	var item DocumentItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, upstream("read", p, err)
	}
	return &item, nil
}

func (m *MemoryAdapter) WriteDocument(ctx context.Context, repo adapter.RepositoryRef, p string, env *codec.Envelope, opts adapter.WriteOptions) (*adapter.WriteResult, error) {
	if err := requireRepo("write", repo, p); err != nil {
		return nil, err
	}
	if p == "" || env == nil {
		return nil, adapter.Errorf(adapter.KindBadRequest, "write", p, "path and document are required")
	}
	p = cleanPath(p)
	if len(p) > maxDemoPathLength {
		return nil, adapter.Errorf(adapter.KindBadRequest, "write", p, "path too long (max %d characters)", maxDemoPathLength)
	}
	content, err := codec.MarshalEnvelope(env)
	if err != nil {
		return nil, &adapter.Error{Kind: adapter.KindBadRequest, Op: "write", Path: p, Err: err}
	}
	if len(content) > maxDemoContentSize {
		return nil, adapter.Errorf(adapter.KindBadRequest, "write", p, "content too large (max %d bytes)", maxDemoContentSize)
	}
	if opts.ExpectedToken == "" {
		count, err := m.countUserItems(ctx)
		if err != nil {
			return nil, upstream("write", p, err)
		}
		if count >= maxDemoItemCount {
			return nil, adapter.Errorf(adapter.KindBadRequest, "write", p, "item limit reached for demo mode (max %d items)", maxDemoItemCount)
		}
	}

	now := time.Now()
	item := DocumentItem{
		PK:       m.key(repo, p),
		UserID:   m.userID,
		RepoKey:  repoKey(repo),
		Dir:      path.Dir(p),
		Path:     p,
		Token:    uuid.New().String(),
		Size:     int64(len(content)),
		Modified: now,
		Content:  content,
		TTL:      now.Add(itemTTL).Unix(),
	}
	if item.Dir == "." {
		item.Dir = ""
	}

	if m.client == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		cur, exists := m.docs[item.PK]
		switch {
		case opts.ExpectedToken == "" && exists:
			return nil, adapter.Errorf(adapter.KindConflict, "write", p, "document already exists; a version token is required to overwrite it")
		case opts.ExpectedToken != "" && !exists:
			return nil, adapter.Errorf(adapter.KindConflict, "write", p, "document no longer exists")
		case opts.ExpectedToken != "" && cur.Token != opts.ExpectedToken:
			return nil, adapter.Errorf(adapter.KindConflict, "write", p, "version token does not match")
		}
		m.docs[item.PK] = &item
		return &adapter.WriteResult{Token: item.Token}, nil
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, upstream("write", p, err)
	}
	in := &dynamodb.PutItemInput{
		TableName: getTableName(),
		Item:      av,
	}
	if opts.ExpectedToken == "" {
		in.ConditionExpression = aws.String("attribute_not_exists(pk)")
	} else {
		in.ConditionExpression = aws.String("etag = :etag")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":etag": &types.AttributeValueMemberS{Value: opts.ExpectedToken},
		}
	}
	if _, err := m.client.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, adapter.Errorf(adapter.KindConflict, "write", p, "version token does not match")
		}
		return nil, upstream("write", p, err)
	}
	return &adapter.WriteResult{Token: item.Token}, nil
}

func (m *MemoryAdapter) DeleteDocument(ctx context.Context, repo adapter.RepositoryRef, p, token string, opts adapter.DeleteOptions) error {
	if err := requireRepo("delete", repo, p); err != nil {
		return err
	}
	if p == "" || token == "" {
		return adapter.Errorf(adapter.KindBadRequest, "delete", p, "path and version token are required")
	}
	p = cleanPath(p)

	if m.client == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		k := m.key(repo, p)
		cur, ok := m.docs[k]
		if !ok {
			return adapter.Errorf(adapter.KindNotFound, "delete", p, "document not found")
		}
		if cur.Token != token {
			return adapter.Errorf(adapter.KindConflict, "delete", p, "version token does not match")
		}
		delete(m.docs, k)
		return nil
	}

	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: getTableName(),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: m.key(repo, p)},
		},
		ConditionExpression: aws.String("etag = :etag"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":etag": &types.AttributeValueMemberS{Value: token},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if ccf.Item == nil {
				return adapter.Errorf(adapter.KindNotFound, "delete", p, "document not found")
			}
			return adapter.Errorf(adapter.KindConflict, "delete", p, "version token does not match")
		}
		return upstream("delete", p, err)
	}
	return nil
}

func (m *MemoryAdapter) countUserItems(ctx context.Context) (int, error) {
	if m.client == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.docs), nil
	}

	// Scan to count (inefficient for prod, but acceptable for demo/dev mode limit enforcement)
	count := 0
	err := m.scan(ctx, &dynamodb.ScanInput{
		TableName:        getTableName(),
		FilterExpression: aws.String("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: m.userID},
		},
		Select: types.SelectCount,
	}, func(out *dynamodb.ScanOutput) error {
		count += int(out.Count)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// scan runs in page by page until LastEvaluatedKey comes back empty.
func (m *MemoryAdapter) scan(ctx context.Context, in *dynamodb.ScanInput, page func(*dynamodb.ScanOutput) error) error {
	for {
		out, err := m.client.Scan(ctx, in)
		if err != nil {
			return err
		}
		if err := page(out); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func requireRepo(op string, repo adapter.RepositoryRef, p string) error {
	if repo.Owner == "" || repo.Name == "" {
		return adapter.Errorf(adapter.KindBadRequest, op, p, "repository owner and name are required")
	}
	return nil
}

func upstream(op, p string, err error) error {
	return &adapter.Error{Kind: adapter.KindUpstream, Op: op, Path: p, Err: err}
}
