package grpcserver

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"epochbook/domain/orderbook"
)

// Client is a typed wrapper over a BookService connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert returns the chunk path the event was stored in.
func (c *Client) Insert(ctx context.Context, ev orderbook.Event) (string, error) {
	out, err := c.call(ctx, "Insert", encodeEvent(ev))
	if err != nil {
		return "", err
	}
	return stringField(out, "path")
}

func (c *Client) Update(ctx context.Context, ev orderbook.Event) error {
	_, err := c.call(ctx, "Update", encodeEvent(ev))
	return err
}

func (c *Client) Delete(ctx context.Context, symbol string, id, epoch uint64) error {
	_, err := c.call(ctx, "Delete", map[string]any{
		"symbol": symbol,
		"id":     strconv.FormatUint(id, 10),
		"epoch":  strconv.FormatUint(epoch, 10),
	})
	return err
}

func (c *Client) Query(ctx context.Context, symbol string, epoch uint64) (orderbook.Snapshot, error) {
	out, err := c.call(ctx, "Query", map[string]any{
		"symbol": symbol,
		"epoch":  strconv.FormatUint(epoch, 10),
	})
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	return decodeSnapshot(out)
}

func (c *Client) QueryMultiple(ctx context.Context, symbol string, epochs []uint64) ([]orderbook.Snapshot, error) {
	list := make([]any, len(epochs))
	for i, e := range epochs {
		list[i] = strconv.FormatUint(e, 10)
	}
	out, err := c.call(ctx, "QueryMultiple", map[string]any{"symbol": symbol, "epochs": list})
	if err != nil {
		return nil, err
	}

	vals := out.GetFields()["snapshots"].GetListValue().GetValues()
	snaps := make([]orderbook.Snapshot, len(vals))
	for i, v := range vals {
		s := v.GetStructValue()
		if s == nil {
			return nil, errors.Newf("snapshot %d is not an object", i)
		}
		if snaps[i], err = decodeSnapshot(s); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

// IngestLines sends an inline order log.
func (c *Client) IngestLines(ctx context.Context, symbol string, lines []string) (int, error) {
	list := make([]any, len(lines))
	for i, l := range lines {
		list[i] = l
	}
	out, err := c.call(ctx, "Ingest", map[string]any{"symbol": symbol, "lines": list})
	if err != nil {
		return 0, err
	}
	n, err := numberField(out, "ingested")
	return int(n), err
}
