/*
Copyright © 2026 the BlueCarbon authors.
This file is part of BlueCarbon.

BlueCarbon is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

BlueCarbon is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with BlueCarbon.  If not, see <http://www.gnu.org/licenses/>.
*/

package bluecarbon

import (
	"fmt"
	"math"
)

// A PriceSchedule assigns a discounted carbon price to every timestep of
// a model run.
type PriceSchedule struct {
	prices []float64
}

// NewPriceSchedule builds a schedule from a carbon price in the baseline
// year, an annual rate of price change, and an annual discount rate,
// both rates in percent: the price grows by the interest rate and is
// discounted back to the baseline year.
func NewPriceSchedule(tl *Timeline, price, interestRate, discountRate float64) (*PriceSchedule, error) {
	if discountRate <= -100 {
		return nil, fmt.Errorf("bluecarbon: discount rate must be greater than -100%%; got %g", discountRate)
	}
	growth := 1 + interestRate/100
	discount := 1 + discountRate/100
	p := make([]float64, tl.Timesteps())
	for t := range p {
		p[t] = price * math.Pow(growth, float64(t)) / math.Pow(discount, float64(t))
	}
	return &PriceSchedule{prices: p}, nil
}

// NewPriceTableSchedule builds a schedule from a table of per-year
// prices, discounted back to the baseline year at discountRate percent.
// The table must hold a price for every modeled year.
func NewPriceTableSchedule(tl *Timeline, priceTable map[int]float64, discountRate float64) (*PriceSchedule, error) {
	if discountRate <= -100 {
		return nil, fmt.Errorf("bluecarbon: discount rate must be greater than -100%%; got %g", discountRate)
	}
	discount := 1 + discountRate/100
	p := make([]float64, tl.Timesteps())
	for t := range p {
		price, ok := priceTable[tl.Year(t)]
		if !ok {
			return nil, fmt.Errorf("bluecarbon: price table has no price for year %d", tl.Year(t))
		}
		p[t] = price / math.Pow(discount, float64(t))
	}
	return &PriceSchedule{prices: p}, nil
}

// Price returns the discounted carbon price for timestep step.
func (ps *PriceSchedule) Price(step int) float64 { return ps.prices[step] }
