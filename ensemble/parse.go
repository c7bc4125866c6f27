package ensemble

import "github.com/nvr-ai/go-treebench/ensemble/kernelerr"

// ParseMode accepts the string name an ingest source may use for a split
// mode (LEAF, BRANCH_LEQ, BRANCH_LT, BRANCH_GTE, BRANCH_GT, BRANCH_EQ,
// BRANCH_NEQ, BRANCH_MEMBER) and returns the corresponding Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "LEAF":
		return Leaf, nil
	case "BRANCH_LEQ":
		return BranchLEQ, nil
	case "BRANCH_LT":
		return BranchLT, nil
	case "BRANCH_GTE":
		return BranchGTE, nil
	case "BRANCH_GT":
		return BranchGT, nil
	case "BRANCH_EQ":
		return BranchEQ, nil
	case "BRANCH_NEQ":
		return BranchNEQ, nil
	case "BRANCH_MEMBER":
		return BranchMember, nil
	default:
		return 0, kernelerr.NewConfigurationError("unknown split mode", kernelerr.WithDetail("mode", s))
	}
}

// ParseAggregate accepts the aggregate name an ingest source may use.
func ParseAggregate(s string) (Aggregate, error) {
	switch s {
	case "SUM":
		return AggregateSum, nil
	case "AVERAGE", "AVG":
		return AggregateAvg, nil
	case "MIN":
		return AggregateMin, nil
	case "MAX":
		return AggregateMax, nil
	default:
		return 0, kernelerr.NewConfigurationError("unknown aggregate", kernelerr.WithDetail("aggregate", s))
	}
}

// ParsePostTransform accepts the post-transform name an ingest source may
// use.
func ParsePostTransform(s string) (PostTransform, error) {
	switch s {
	case "NONE", "":
		return TransformNone, nil
	case "SOFTMAX":
		return TransformSoftmax, nil
	case "LOGISTIC":
		return TransformLogistic, nil
	case "SOFTMAX_ZERO":
		return TransformSoftmaxZero, nil
	case "PROBIT":
		return TransformProbit, nil
	default:
		return 0, kernelerr.NewConfigurationError("unknown post_transform", kernelerr.WithDetail("post_transform", s))
	}
}
