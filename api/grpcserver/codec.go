package grpcserver

import (
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"epochbook/domain/orderbook"
)

// Messages are structpb.Struct values. Epochs and ids are decimal strings
// since structpb numbers are float64; quantities and prices are numbers.

var errBadRequest = errors.New("bad request")

func stringField(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", errors.Wrapf(errBadRequest, "missing %s", key)
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", errors.Wrapf(errBadRequest, "%s must be a string", key)
	}
	return str.StringValue, nil
}

func uintField(s *structpb.Struct, key string) (uint64, error) {
	str, err := stringField(s, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errBadRequest, "%s %q is not an unsigned integer", key, str)
	}
	return n, nil
}

func numberField(s *structpb.Struct, key string) (float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, errors.Wrapf(errBadRequest, "missing %s", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.Wrapf(errBadRequest, "%s must be a number", key)
	}
	return n.NumberValue, nil
}

func qtyField(s *structpb.Struct, key string) (uint64, error) {
	f, err := numberField(s, key)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != math.Trunc(f) || f > 1<<53 {
		return 0, errors.Wrapf(errBadRequest, "%s %v is not a whole quantity", key, f)
	}
	return uint64(f), nil
}

func decodeEvent(s *structpb.Struct) (orderbook.Event, error) {
	var (
		ev  orderbook.Event
		err error
	)
	if ev.Symbol, err = stringField(s, "symbol"); err != nil {
		return ev, err
	}
	if ev.Epoch, err = uintField(s, "epoch"); err != nil {
		return ev, err
	}
	if ev.ID, err = uintField(s, "id"); err != nil {
		return ev, err
	}

	side, err := stringField(s, "side")
	if err != nil {
		return ev, err
	}
	if ev.Side, err = orderbook.ParseSide(side); err != nil {
		return ev, errors.Wrap(errBadRequest, err.Error())
	}
	cat, err := stringField(s, "category")
	if err != nil {
		return ev, err
	}
	if ev.Category, err = orderbook.ParseCategory(cat); err != nil {
		return ev, errors.Wrap(errBadRequest, err.Error())
	}

	if ev.Qty, err = qtyField(s, "qty"); err != nil {
		return ev, err
	}
	if ev.Price, err = numberField(s, "price"); err != nil {
		return ev, err
	}
	if math.IsNaN(ev.Price) || math.IsInf(ev.Price, 0) {
		return ev, errors.Wrapf(errBadRequest, "price %v is not finite", ev.Price)
	}
	return ev, nil
}

func encodeEvent(ev orderbook.Event) map[string]any {
	return map[string]any{
		"symbol":   ev.Symbol,
		"epoch":    strconv.FormatUint(ev.Epoch, 10),
		"id":       strconv.FormatUint(ev.ID, 10),
		"side":     ev.Side.String(),
		"category": ev.Category.String(),
		"qty":      float64(ev.Qty),
		"price":    ev.Price,
	}
}

func encodeSnapshot(snap orderbook.Snapshot) map[string]any {
	out := map[string]any{
		"buys":       encodeLevels(snap.BuyLevels()),
		"sells":      encodeLevels(snap.SellLevels()),
		"last_trade": nil,
	}
	if t := snap.LastTrade; !t.Empty() {
		out["last_trade"] = map[string]any{
			"epoch": strconv.FormatUint(t.Epoch, 10),
			"qty":   float64(t.Qty),
			"price": t.Price,
		}
	}
	return out
}

func encodeLevels(lvls []orderbook.Level) []any {
	out := make([]any, 0, len(lvls))
	for _, l := range lvls {
		out = append(out, map[string]any{"price": l.Price, "qty": float64(l.Qty)})
	}
	return out
}

func decodeSnapshot(s *structpb.Struct) (orderbook.Snapshot, error) {
	snap := orderbook.EmptySnapshot()
	for key, side := range map[string]orderbook.Side{"buys": orderbook.Buy, "sells": orderbook.Sell} {
		for _, v := range s.GetFields()[key].GetListValue().GetValues() {
			lvl := v.GetStructValue()
			if lvl == nil {
				return snap, errors.Wrapf(errBadRequest, "%s entry is not an object", key)
			}
			qty, err := qtyField(lvl, "qty")
			if err != nil {
				return snap, err
			}
			price, err := numberField(lvl, "price")
			if err != nil {
				return snap, err
			}
			snap.Book.Set(side, orderbook.Level{Qty: qty, Price: price})
		}
	}

	if t := s.GetFields()["last_trade"].GetStructValue(); t != nil {
		var err error
		if snap.LastTrade.Epoch, err = uintField(t, "epoch"); err != nil {
			return snap, err
		}
		if snap.LastTrade.Qty, err = qtyField(t, "qty"); err != nil {
			return snap, err
		}
		if snap.LastTrade.Price, err = numberField(t, "price"); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode response")
	}
	return s, nil
}
