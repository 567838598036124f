package deal

import (
	"strings"

	"TrackDeal/model"
)

// ValidateTerms checks terms against the deal type. Fields that belong to
// another deal type must be absent; splits must total exactly 100.
func ValidateTerms(dealType model.DealType, t model.Terms) error {
	if !model.ValidDealType(dealType) {
		return validationf("deal_type must be one of buyout, revenue_split, recoupment")
	}

	switch dealType {
	case model.DealBuyout:
		if t.BuyoutAmountCents == nil {
			return validationf("buyout_amount is required for buyout deals")
		}
		if *t.BuyoutAmountCents <= 0 {
			return validationf("buyout_amount must be positive")
		}
		if t.ProducerSplit != nil || t.PlatformSplit != nil {
			return validationf("producer_split and platform_split are not used by buyout deals")
		}
		if t.MarketingBudgetCents != nil {
			return validationf("marketing_budget is only used by recoupment deals")
		}
	case model.DealRevenueSplit, model.DealRecoupment:
		if t.BuyoutAmountCents != nil {
			return validationf("buyout_amount is only used by buyout deals")
		}
		if t.ProducerSplit == nil || t.PlatformSplit == nil {
			return validationf("producer_split and platform_split are required for %s deals", dealType)
		}
		if *t.ProducerSplit < 0 || *t.ProducerSplit > 100 {
			return validationf("producer_split must be between 0 and 100")
		}
		if *t.PlatformSplit < 0 || *t.PlatformSplit > 100 {
			return validationf("platform_split must be between 0 and 100")
		}
		if *t.ProducerSplit+*t.PlatformSplit != 100 {
			return validationf("splits must total 100")
		}
		if dealType == model.DealRecoupment {
			if t.MarketingBudgetCents == nil {
				return validationf("marketing_budget is required for recoupment deals")
			}
			if *t.MarketingBudgetCents <= 0 {
				return validationf("marketing_budget must be positive")
			}
		} else if t.MarketingBudgetCents != nil {
			return validationf("marketing_budget is only used by recoupment deals")
		}
	}

	if t.TermMonths <= 0 {
		return validationf("term_months must be positive")
	}
	if strings.TrimSpace(t.Territory) == "" {
		return validationf("territory is required")
	}
	return nil
}
