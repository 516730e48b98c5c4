package main

import (
	"fmt"
	"strconv"
	"strings"
)

// rpcRequest 发给交易桥的一条请求
type rpcRequest struct {
	ID     string                 `json:"id"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

const helpText = `命令:
  open SYMBOL VOLUME [buy|sell] [sl=..] [tp=..] [profit=..] [price=..] [comment=..]
  close TICKET
  close-symbol SYMBOL
  close-all
  positions [SYMBOL]
  account
  mappings
  map EXT VENUE [RATIO]
  unmap EXT
  health
  help | quit`

// parseCommand 把一行输入转换为请求；id 由调用方填充
func parseCommand(line string) (rpcRequest, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return rpcRequest{}, fmt.Errorf("空命令")
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("用法: %s", usage)
		}
		return nil
	}

	switch cmd {
	case "open":
		if err := need(2, "open SYMBOL VOLUME [buy|sell] [sl=..] [tp=..] [profit=..]"); err != nil {
			return rpcRequest{}, err
		}
		vol, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return rpcRequest{}, fmt.Errorf("交易量无效: %s", args[1])
		}
		params := map[string]interface{}{"symbol": args[0], "volume": vol}
		for _, a := range args[2:] {
			k, v, found := strings.Cut(a, "=")
			if !found {
				switch strings.ToLower(a) {
				case "buy", "sell", "long", "short":
					params["order_type"] = strings.ToUpper(a)
					continue
				}
				return rpcRequest{}, fmt.Errorf("无法识别的参数: %s", a)
			}
			switch k = strings.ToLower(k); k {
			case "comment":
				params["comment"] = v
			case "sl", "tp", "price", "profit":
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return rpcRequest{}, fmt.Errorf("%s 不是有效数字: %s", k, v)
				}
				if k == "profit" {
					k = "profit_amount"
				}
				params[k] = f
			default:
				return rpcRequest{}, fmt.Errorf("未知参数: %s", k)
			}
		}
		return rpcRequest{Action: "open_position", Params: params}, nil

	case "close":
		if err := need(1, "close TICKET"); err != nil {
			return rpcRequest{}, err
		}
		return rpcRequest{Action: "close_position_by_ticket", Params: map[string]interface{}{"ticket": args[0]}}, nil

	case "close-symbol":
		if err := need(1, "close-symbol SYMBOL"); err != nil {
			return rpcRequest{}, err
		}
		return rpcRequest{Action: "close_positions_by_symbol", Params: map[string]interface{}{"symbol": args[0]}}, nil

	case "close-all":
		return rpcRequest{Action: "close_all_positions"}, nil

	case "positions":
		req := rpcRequest{Action: "get_positions"}
		if len(args) > 0 {
			req.Params = map[string]interface{}{"symbol": args[0]}
		}
		return req, nil

	case "account":
		return rpcRequest{Action: "get_account_info"}, nil

	case "mappings":
		return rpcRequest{Action: "get_symbol_mappings"}, nil

	case "map":
		if err := need(2, "map EXT VENUE [RATIO]"); err != nil {
			return rpcRequest{}, err
		}
		params := map[string]interface{}{"external_symbol": args[0], "venue_symbol": args[1]}
		if len(args) > 2 {
			ratio, err := strconv.ParseFloat(args[2], 64)
			if err != nil || ratio <= 0 {
				return rpcRequest{}, fmt.Errorf("手数比例无效: %s", args[2])
			}
			params["volume_ratio"] = ratio
		}
		return rpcRequest{Action: "add_symbol_mapping", Params: params}, nil

	case "unmap":
		if err := need(1, "unmap EXT"); err != nil {
			return rpcRequest{}, err
		}
		return rpcRequest{Action: "remove_symbol_mapping", Params: map[string]interface{}{"external_symbol": args[0]}}, nil

	case "health":
		return rpcRequest{Action: "health_check"}, nil
	}
	return rpcRequest{}, fmt.Errorf("未知命令: %s (输入 help 查看帮助)", cmd)
}
