package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"github.com/wehubfusion/Weaver/pkg/workflow"
)

// BlobStore keeps each record as a JSON blob in an Azure Storage container.
// It connects with shared key credentials, which also works against a local
// Azurite instance over plain HTTP.
type BlobStore struct {
	client        *azblob.Client
	containerName string
	logger        *zap.Logger

	containerMu   sync.Mutex
	containerInit bool
}

// NewBlobStore creates a store from a standard connection string.
func NewBlobStore(connectionString, containerName string, logger *zap.Logger) (*BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStore{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

func (s *BlobStore) Save(ctx context.Context, record *workflow.WorkflowExecution) error {
	if err := validate(record); err != nil {
		return err
	}
	if err := s.ensureContainer(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	path := BlobPath(record.WorkflowID, record.ID)
	_, err = s.client.UploadBuffer(ctx, s.containerName, path, data, &azblob.UploadBufferOptions{
		Metadata: map[string]*string{
			"status":     to.Ptr(string(record.Status)),
			"started_at": to.Ptr(record.StartedAt),
		},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/json"),
		},
	})
	if err != nil {
		s.logger.Error("failed to upload execution",
			zap.String("blob_path", path),
			zap.Int("size", len(data)),
			zap.Error(err))
		return fmt.Errorf("blob upload failed: %w", err)
	}

	s.logger.Debug("uploaded execution",
		zap.String("blob_path", path),
		zap.Int("size_bytes", len(data)))
	return nil
}

func (s *BlobStore) Get(ctx context.Context, workflowID, executionID string) (*workflow.WorkflowExecution, error) {
	data, err := s.download(ctx, BlobPath(workflowID, executionID))
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return nil, notFound(workflowID, executionID)
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *BlobStore) List(ctx context.Context, workflowID string) ([]*workflow.WorkflowExecution, error) {
	prefix := fmt.Sprintf("executions/%s/", workflowID)
	pager := s.client.NewListBlobsFlatPager(s.containerName, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})

	out := []*workflow.WorkflowExecution{}
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list executions of %s: %w", workflowID, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			data, err := s.download(ctx, *item.Name)
			if err != nil {
				return nil, err
			}
			rec, err := decode(data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", *item.Name, err)
			}
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *BlobStore) download(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.containerName, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}
	return data, nil
}

func (s *BlobStore) ensureContainer(ctx context.Context) error {
	s.containerMu.Lock()
	defer s.containerMu.Unlock()
	if s.containerInit {
		return nil
	}

	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(bloberror.ContainerAlreadyExists) {
			s.containerInit = true
			return nil
		}
		return fmt.Errorf("failed to ensure container: %w", err)
	}

	s.containerInit = true
	return nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}

var _ Store = (*BlobStore)(nil)
