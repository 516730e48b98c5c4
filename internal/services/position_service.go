package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/orderbridge/internal/domain"
	"github.com/betbot/orderbridge/internal/metrics"
	"github.com/betbot/orderbridge/internal/symbolmap"
	"github.com/betbot/orderbridge/internal/venue"
	"github.com/betbot/orderbridge/pkg/executor"
)

var positionLog = logrus.WithField("component", "position_service")

// CloseReport 批量平仓结果
type CloseReport struct {
	Success bool              `json:"success"`
	Total   int               `json:"total"`
	Closed  []string          `json:"closed"`
	Failed  map[string]string `json:"failed,omitempty"` // ticket -> 错误
}

// PositionService 持仓查询与平仓。不缓存持仓，每次调用都从场所读取。
type PositionService struct {
	venue   PositionVenue
	tr      *symbolmap.Translator
	ex      executor.Executor
	timeout time.Duration
}

func NewPositionService(v PositionVenue, tr *symbolmap.Translator, ex executor.Executor, timeout time.Duration) *PositionService {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &PositionService{venue: v, tr: tr, ex: ex, timeout: timeout}
}

// List 列出持仓；symbol 为场所原生品种，空表示全部。只返回数量非零的持仓，并填充 OriginalSymbol。
func (s *PositionService) List(ctx context.Context, symbol string) ([]domain.Position, error) {
	if err := ensureConnected(s.venue); err != nil {
		return nil, err
	}
	list, err := executor.Call(ctx, s.ex, "positions", s.timeout, func(ctx context.Context) ([]domain.Position, error) {
		return s.venue.ListPositions(ctx, symbol)
	})
	if err != nil {
		return nil, asConnectivity(execError("获取持仓", s.timeout, err), "获取持仓失败: %v", err)
	}
	out := list[:0]
	for _, p := range list {
		if p.Volume == 0 {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if s.tr != nil {
			p.OriginalSymbol = s.tr.Reverse(p.Symbol)
		} else {
			p.OriginalSymbol = p.Symbol
		}
		out = append(out, p)
	}
	return out, nil
}

// CloseByID 按票据平仓
func (s *PositionService) CloseByID(ctx context.Context, ticket string) (*domain.OrderOutcome, error) {
	if ticket == "" {
		return nil, venue.Validation("缺少必要参数: ticket")
	}
	all, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Ticket == ticket {
			return s.closeOne(ctx, p)
		}
	}
	positionLog.Errorf("未找到持仓票据: %s", ticket)
	return nil, &venue.Error{Kind: venue.KindValidation, Message: "未找到持仓: " + ticket, Err: venue.ErrPositionNotFound}
}

// CloseBySymbol 平掉某个场所品种的所有持仓；没有持仓时视为成功
func (s *PositionService) CloseBySymbol(ctx context.Context, symbol string) (*CloseReport, error) {
	if symbol == "" {
		return nil, venue.Validation("缺少必要参数: symbol")
	}
	list, err := s.List(ctx, symbol)
	if err != nil {
		return nil, err
	}
	positionLog.Infof("关闭 %s 的 %d 个持仓", symbol, len(list))
	return s.closeBatch(ctx, list), nil
}

// CloseAll 平掉所有持仓；没有持仓时视为成功
func (s *PositionService) CloseAll(ctx context.Context) (*CloseReport, error) {
	list, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	positionLog.Infof("关闭所有持仓，共 %d 个", len(list))
	return s.closeBatch(ctx, list), nil
}

// closeBatch 逐个平仓，单个失败不中断
func (s *PositionService) closeBatch(ctx context.Context, list []domain.Position) *CloseReport {
	rep := &CloseReport{Success: true, Total: len(list), Closed: []string{}}
	for _, p := range list {
		if _, err := s.closeOne(ctx, p); err != nil {
			if rep.Failed == nil {
				rep.Failed = make(map[string]string)
			}
			rep.Failed[p.Ticket] = err.Error()
			rep.Success = false
			continue
		}
		rep.Closed = append(rep.Closed, p.Ticket)
	}
	if !rep.Success {
		positionLog.Errorf("批量平仓部分失败: 成功 %d / 共 %d", len(rep.Closed), rep.Total)
	}
	return rep
}

// closeOne 以当前对手价提交反向只减仓市价单
func (s *PositionService) closeOne(ctx context.Context, p domain.Position) (*domain.OrderOutcome, error) {
	out, err := executor.Call(ctx, s.ex, "close:"+p.Ticket, s.timeout, func(ctx context.Context) (*domain.OrderOutcome, error) {
		price := 0.0
		if q, err := s.venue.GetQuote(ctx, p.Symbol); err != nil {
			positionLog.Warnf("获取 %s 行情失败，由场所使用当前价平仓: %v", p.Symbol, err)
		} else {
			price = q.ExitFor(p.Side)
		}
		return s.venue.ClosePosition(ctx, p, price)
	})
	if err != nil {
		err = execError("平仓 "+p.Ticket, s.timeout, err)
		positionLog.Errorf("关闭持仓失败，持仓票据: %s: %v", p.Ticket, err)
		return nil, err
	}
	metrics.PositionsClosed.Add(1)
	positionLog.Infof("成功关闭持仓，持仓票据: %s", p.Ticket)
	return out, nil
}
