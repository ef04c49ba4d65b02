package grpcserver

import (
	"context"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"epochbook/domain/orderbook"
	"epochbook/infra/logger"
	"epochbook/service"
)

func newClient(t *testing.T) (*Client, *grpc.ClientConn) {
	t.Helper()
	log := logrus.NewEntry(logger.Discard())

	engine, err := service.New(service.Config{DataDir: t.TempDir(), EpochWindow: 1000}, log, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(log)))
	NewServer(engine, log).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), conn
}

func ev(epoch, id uint64, side orderbook.Side, cat orderbook.Category, qty uint64, price float64) orderbook.Event {
	return orderbook.Event{Symbol: "SCH", Epoch: epoch, ID: id, Side: side, Category: cat, Qty: qty, Price: price}
}

func TestInsertQueryRoundTrip(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	path, err := c.Insert(ctx, ev(1000, 1, orderbook.Buy, orderbook.New, 10, 9.75))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !strings.HasSuffix(path, "SCH/1000.dat") {
		t.Fatalf("path = %s", path)
	}
	for _, e := range []orderbook.Event{
		ev(1005, 2, orderbook.Sell, orderbook.New, 4, 10.25),
		ev(1010, 3, orderbook.Sell, orderbook.Trade, 1, 10.25),
	} {
		if _, err := c.Insert(ctx, e); err != nil {
			t.Fatalf("insert %v: %v", e, err)
		}
	}

	snap, err := c.Query(ctx, "SCH", 1010)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	buys, sells := snap.BuyLevels(), snap.SellLevels()
	if len(buys) != 1 || buys[0] != (orderbook.Level{Qty: 10, Price: 9.75}) {
		t.Fatalf("buys = %v", buys)
	}
	if len(sells) != 1 || sells[0] != (orderbook.Level{Qty: 3, Price: 10.25}) {
		t.Fatalf("sells = %v", sells)
	}
	if snap.LastTrade != (orderbook.LastTrade{Epoch: 1010, Qty: 1, Price: 10.25}) {
		t.Fatalf("last trade = %+v", snap.LastTrade)
	}

	snaps, err := c.QueryMultiple(ctx, "SCH", []uint64{999, 1005, 1010})
	if err != nil {
		t.Fatalf("query multiple: %v", err)
	}
	if len(snaps) != 3 || !snaps[0].Empty() || snaps[1].Book.Sells[10.25] != 4 || snaps[2].Book.Sells[10.25] != 3 {
		t.Fatalf("snapshots = %+v", snaps)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	for _, e := range []orderbook.Event{
		ev(1000, 1, orderbook.Buy, orderbook.New, 10, 9.75),
		ev(1005, 2, orderbook.Sell, orderbook.New, 4, 10.25),
		ev(1010, 3, orderbook.Sell, orderbook.Trade, 1, 10.25),
	} {
		if _, err := c.Insert(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Update(ctx, ev(1005, 2, orderbook.Sell, orderbook.New, 6, 10.25)); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap, _ := c.Query(ctx, "SCH", 1010)
	if snap.Book.Sells[10.25] != 5 {
		t.Fatalf("after update sells = %v", snap.Book.Sells)
	}

	if err := c.Delete(ctx, "SCH", 3, 1010); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap, _ = c.Query(ctx, "SCH", 1010)
	if snap.Book.Sells[10.25] != 6 || !snap.LastTrade.Empty() {
		t.Fatalf("after delete = %+v", snap)
	}

	err := c.Delete(ctx, "SCH", 3, 1010)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("second delete: %v", err)
	}
}

func TestErrorCodes(t *testing.T) {
	c, conn := newClient(t)
	ctx := context.Background()

	_, err := c.Insert(ctx, ev(1000, 1, orderbook.Buy, orderbook.Trade, 1, 9.75))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("initial trade: %v", err)
	}

	_, err = c.Query(ctx, "../etc", 1000)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("bad symbol: %v", err)
	}

	in, _ := structpb.NewStruct(map[string]any{"symbol": "SCH", "epoch": 1000.0})
	err = conn.Invoke(ctx, "/"+ServiceName+"/Query", in, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("numeric epoch: %v", err)
	}
}

func TestNonFinitePriceIsInvalidArgument(t *testing.T) {
	c, conn := newClient(t)
	ctx := context.Background()

	for _, price := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		in, err := structpb.NewStruct(encodeEvent(ev(1000, 1, orderbook.Buy, orderbook.New, 5, price)))
		if err != nil {
			t.Fatal(err)
		}
		err = conn.Invoke(ctx, "/"+ServiceName+"/Insert", in, new(structpb.Struct))
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("price %v: %v", price, err)
		}
	}

	snap, err := c.Query(ctx, "SCH", 2000)
	if err != nil || !snap.Empty() {
		t.Fatalf("query: %+v %v", snap, err)
	}
}

func TestIngestLines(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	n, err := c.IngestLines(ctx, "XYZ", []string{
		"1000 1 XYZ BUY NEW 9.5 3",
		"2500 2 XYZ BUY NEW 9.5 2",
	})
	if err != nil || n != 2 {
		t.Fatalf("ingest: n=%d err=%v", n, err)
	}
	snap, err := c.Query(ctx, "XYZ", 2500)
	if err != nil || snap.Book.Buys[9.5] != 5 {
		t.Fatalf("query: %+v %v", snap, err)
	}

	_, err = c.IngestLines(ctx, "XYZ", []string{"3000 3 ABC BUY NEW 9.5 1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("foreign symbol: %v", err)
	}
}

func TestIngestRejectsServerPath(t *testing.T) {
	c, conn := newClient(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "orders.log")
	if err := os.WriteFile(path, []byte("1000 1 XYZ BUY NEW 9.5 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	in, _ := structpb.NewStruct(map[string]any{"symbol": "XYZ", "path": path})
	err := conn.Invoke(ctx, "/"+ServiceName+"/Ingest", in, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("path ingest: %v", err)
	}
	in, _ = structpb.NewStruct(map[string]any{"symbol": "XYZ", "path": path, "lines": []any{"1000 1 XYZ BUY NEW 9.5 3"}})
	err = conn.Invoke(ctx, "/"+ServiceName+"/Ingest", in, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("path with lines: %v", err)
	}

	snap, err := c.Query(ctx, "XYZ", 2000)
	if err != nil || !snap.Empty() {
		t.Fatalf("query: %+v %v", snap, err)
	}
}
