package physical

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"strconv"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/berithfoundation/vdocore/internal/vtypes"
)

// AzureBlobStore is a second BlockStore implementation behind the same
// interface as LevelDBStore, the way light/odr_util.go serves one
// request type from more than one backend. No test in this module
// exercises it and cmd/vdoharness does not construct one.
type AzureBlobStore struct {
	container azblob.ContainerURL
}

// NewAzureBlobStore wraps an already-constructed container URL; the
// caller builds it, endpoint and credentials included.
func NewAzureBlobStore(container azblob.ContainerURL) *AzureBlobStore {
	return &AzureBlobStore{container: container}
}

func blobName(pbn vtypes.PBN) string {
	return "block-" + strconv.FormatUint(uint64(pbn), 10)
}

// ReadBlock implements BlockStore.
func (s *AzureBlobStore) ReadBlock(ctx context.Context, pbn vtypes.PBN) ([]byte, bool, error) {
	blobURL := s.container.NewBlockBlobURL(blobName(pbn))
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false)
	if err != nil {
		return nil, false, fmt.Errorf("physical: azure read pbn %d: %w", pbn, err)
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()
	raw, err := ioutil.ReadAll(body)
	if err != nil {
		return nil, false, err
	}
	return decodeStoredBlock(raw)
}

// WriteBlock implements BlockStore.
func (s *AzureBlobStore) WriteBlock(ctx context.Context, pbn vtypes.PBN, data []byte, compressed bool) error {
	blobURL := s.container.NewBlockBlobURL(blobName(pbn))
	raw := encodeStoredBlock(data, compressed)
	_, err := blobURL.Upload(ctx, bytes.NewReader(raw), azblob.BlobHTTPHeaders{}, azblob.Metadata{}, azblob.BlobAccessConditions{})
	if err != nil {
		return fmt.Errorf("physical: azure write pbn %d: %w", pbn, err)
	}
	return nil
}
