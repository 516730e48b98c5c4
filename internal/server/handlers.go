package server

import (
	"context"
	"errors"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/symbolmap"
	"github.com/betbot/orderbridge/internal/venue"
)

// HandlerFunc 单个 action 的处理函数
type HandlerFunc func(ctx context.Context, p Params) Response

func (s *Server) registerHandlers() {
	s.handlers = map[string]HandlerFunc{
		"open_position":             s.handleOpenPosition,
		"close_position_by_ticket":  s.handleClosePositionByTicket,
		"close_positions_by_symbol": s.handleClosePositionsBySymbol,
		"close_all_positions":       s.handleCloseAllPositions,
		"get_positions":             s.handleGetPositions,
		"get_account_info":          s.handleGetAccountInfo,
		"get_symbol_mappings":       s.handleGetSymbolMappings,
		"add_symbol_mapping":        s.handleAddSymbolMapping,
		"remove_symbol_mapping":     s.handleRemoveSymbolMapping,
		"health_check":              s.handleHealthCheck,
	}
}

// Actions 已注册的 action 名称
func (s *Server) Actions() []string {
	out := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		out = append(out, name)
	}
	return out
}

func (s *Server) handleOpenPosition(ctx context.Context, p Params) Response {
	symbol := p.String("symbol")
	if symbol == "" || !p.has("volume") {
		return failErr("", venue.Validation("缺少必要参数: symbol 或 volume"))
	}

	intent := domain.TradeIntent{Symbol: symbol, Comment: p.String("comment")}
	if t := p.String("order_type", "type"); t != "" {
		side, err := domain.ParseSide(t)
		if err != nil {
			return failErr("", venue.Validation("%v", err))
		}
		intent.Side = side
	}

	fields := []struct {
		key string
		dst *float64
	}{
		{"volume", &intent.Volume},
		{"price", &intent.Price},
		{"sl", &intent.StopLoss},
		{"tp", &intent.TakeProfit},
		{"profit_amount", &intent.ProfitAmount},
	}
	for _, f := range fields {
		v, _, err := p.Float(f.key)
		if err != nil {
			return failErr("", venue.Validation("%v", err))
		}
		*f.dst = v
	}

	out, err := s.orders.Open(ctx, intent)
	if err != nil {
		return failErr("开仓失败", err)
	}
	return ok("开仓成功", out)
}

func (s *Server) handleClosePositionByTicket(ctx context.Context, p Params) Response {
	ticket := p.String("ticket")
	if ticket == "" {
		return failErr("", venue.Validation("缺少必要参数: ticket"))
	}
	out, err := s.positions.CloseByID(ctx, ticket)
	if err != nil {
		return failErr("关仓失败", err)
	}
	return ok("关仓成功", out)
}

func (s *Server) handleClosePositionsBySymbol(ctx context.Context, p Params) Response {
	symbol := p.String("symbol")
	if symbol == "" {
		return failErr("", venue.Validation("缺少必要参数: symbol"))
	}
	venueSymbol, _ := s.mappings.Resolve(symbol)
	rep, err := s.positions.CloseBySymbol(ctx, venueSymbol)
	if err != nil {
		return failErr("关仓失败", err)
	}
	if !rep.Success {
		r := fail("部分持仓关闭失败: " + venueSymbol)
		r.Data = rep
		return r
	}
	return ok("已关闭 "+venueSymbol+" 的所有持仓", rep)
}

func (s *Server) handleCloseAllPositions(ctx context.Context, _ Params) Response {
	rep, err := s.positions.CloseAll(ctx)
	if err != nil {
		return failErr("关闭所有持仓失败", err)
	}
	if !rep.Success {
		r := fail("关闭所有持仓失败")
		r.Data = rep
		return r
	}
	return ok("所有持仓已关闭", rep)
}

func (s *Server) handleGetPositions(ctx context.Context, p Params) Response {
	symbol := p.String("symbol")
	if symbol != "" {
		symbol, _ = s.mappings.Resolve(symbol)
	}
	list, err := s.positions.List(ctx, symbol)
	if err != nil {
		return failErr("获取持仓失败", err)
	}
	if list == nil {
		list = []domain.Position{}
	}
	return ok("", list)
}

func (s *Server) handleGetAccountInfo(ctx context.Context, _ Params) Response {
	info, err := s.accounts.Info(ctx)
	if err != nil {
		return failErr("获取账户信息失败", err)
	}
	return ok("", info)
}

func (s *Server) handleGetSymbolMappings(_ context.Context, _ Params) Response {
	return ok("", s.mappings.Entries())
}

func (s *Server) handleAddSymbolMapping(_ context.Context, p Params) Response {
	external := p.String("external_symbol")
	target := p.String("venue_symbol", "mt5_symbol", "venue_id")
	if external == "" || target == "" {
		return failErr("", venue.Validation("缺少必要参数: external_symbol 或 venue_symbol"))
	}
	ratio, present, err := p.Float("volume_ratio")
	if err != nil {
		return failErr("", venue.Validation("%v", err))
	}
	if !present {
		ratio = 1.0
	}
	if err := s.mappings.Add(external, target, ratio); err != nil {
		if errors.Is(err, symbolmap.ErrEmptySymbol) || errors.Is(err, symbolmap.ErrInvalidRatio) {
			return failErr("添加符号映射失败", venue.Validation("%v", err))
		}
		return failErr("添加符号映射失败", err)
	}
	return ok("已添加符号映射: "+external+" -> "+target, s.mappings.Entries())
}

func (s *Server) handleRemoveSymbolMapping(_ context.Context, p Params) Response {
	external := p.String("external_symbol")
	if external == "" {
		return failErr("", venue.Validation("缺少必要参数: external_symbol"))
	}
	if err := s.mappings.Remove(external); err != nil {
		if errors.Is(err, symbolmap.ErrNotFound) {
			return failErr("", venue.Validation("删除符号映射失败，可能符号不存在: %s", external))
		}
		return failErr("删除符号映射失败", err)
	}
	return ok("已删除符号映射: "+external, s.mappings.Entries())
}

func (s *Server) handleHealthCheck(_ context.Context, _ Params) Response {
	h := s.accounts.Health()
	if !h.Connected {
		r := fail("交易场所连接异常")
		r.ErrorKind = venue.KindConnectivity.String()
		r.Data = h
		return r
	}
	return ok("服务正常运行", h)
}
