package failover

// DefaultPolicyYAML is the built-in ordered policy set, matching the
// structured failure reasons and recommended actions named in the failover
// contract. Operators override it by pointing config at their own YAML file
// and calling LoadYAML instead.
const DefaultPolicyYAML = `
policies:
  - name: restaurant-full-suggest-alternative-time
    failure_reason: RESTAURANT_FULL
    recoverable: true
    action:
      type: SUGGEST_ALTERNATIVE_TIME
      message_template: "That time is fully booked. Want to try a nearby time instead?"
    suggestions:
      - try_adjacent_time_slots
      - try_nearby_restaurants

  - name: party-too-large-suggest-alternative-restaurant
    failure_reason: PARTY_SIZE_TOO_LARGE
    recoverable: true
    action:
      type: SUGGEST_ALTERNATIVE_RESTAURANT
      message_template: "This restaurant can't seat a party that size. Try another nearby?"
    suggestions:
      - try_larger_venues
      - split_party

  - name: payment-failed-suggest-alternative-date
    failure_reason: PAYMENT_FAILED
    max_attempts: 1
    recoverable: true
    action:
      type: SUGGEST_ALTERNATIVE_DATE
      message_template: "Payment didn't go through. Want to try again or pick another date?"
    suggestions:
      - retry_payment_method
      - try_alternative_date

  - name: payment-failed-after-retry-escalate
    failure_reason: PAYMENT_FAILED
    recoverable: false
    action:
      type: ESCALATE_TO_HUMAN
      message_template: "Payment keeps failing; handing off to a human agent."

  - name: timeout-retry
    failure_reason: TIMEOUT
    max_attempts: 2
    recoverable: true
    action:
      type: RETRY
      message_template: "That took too long; recommend retrying the step."

  - name: delivery-unavailable-trigger-waitlist
    failure_reason: DELIVERY_UNAVAILABLE
    recoverable: true
    action:
      type: TRIGGER_WAITLIST
      message_template: "Delivery isn't available right now; want to join the waitlist instead?"
    suggestions:
      - join_waitlist
      - try_pickup

  - name: validation-failed-escalate
    failure_reason: VALIDATION_FAILED
    recoverable: false
    action:
      type: ESCALATE_TO_HUMAN
      message_template: "The request couldn't be validated; escalating to a human."

  - name: service-error-trigger-delivery-fallback
    failure_reason: SERVICE_ERROR
    keywords:
      - dine-in
      - dine_in
      - seating unavailable
    recoverable: true
    action:
      type: TRIGGER_DELIVERY
      message_template: "Dine-in isn't available; want delivery instead?"
    suggestions:
      - try_delivery

fallback:
  name: default-escalate
  recoverable: false
  action:
    type: ESCALATE_TO_HUMAN
    message_template: "Unable to recover automatically; escalating to a human."
`
